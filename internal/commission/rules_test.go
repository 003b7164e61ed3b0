package commission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"earnhub/internal/models"
	"earnhub/internal/testdb"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate(t *testing.T) {
	table := RuleTable{Version: "v1", Levels: map[int]decimal.Decimal{2: d("0.5"), 3: d("0.01")}}

	assert.Equal(t, "0.15", Evaluate(1, table, true).String())
	assert.Equal(t, "0.03", Evaluate(2, table, true).String(), "level 2 is a policy constant, not table driven")
	assert.Equal(t, "0.01", Evaluate(3, table, true).String())
	assert.True(t, Evaluate(4, table, true).IsZero())
	assert.True(t, Evaluate(0, table, true).IsZero())
	assert.True(t, Evaluate(1, table, false).IsZero(), "unqualified depositors generate no override")
}

func TestRuleTableDepthAndTiers(t *testing.T) {
	table := BuildTable("v2", []models.CommissionRule{
		{Kind: models.RuleKindTeam, Level: 1, Percent: d("0.9")},
		{Kind: models.RuleKindTeam, Level: 3, Percent: d("0.01")},
		{Kind: models.RuleKindTeam, Level: 5, Percent: d("0.005")},
		{Kind: models.RuleKindMonthly, MinVolume: d("1000"), Percent: d("0.05")},
		{Kind: models.RuleKindMonthly, MinVolume: d("100"), Percent: d("0.02")},
	})
	assert.Equal(t, 5, table.MaxDepth())
	_, hasLevelOne := table.Levels[1]
	assert.False(t, hasLevelOne)

	assert.True(t, table.MonthlyRate(d("99.99")).IsZero())
	assert.Equal(t, "0.02", table.MonthlyRate(d("100")).String())
	assert.Equal(t, "0.05", table.MonthlyRate(d("5000")).String())

	assert.Equal(t, 2, BuildTable(BaselineVersion, nil).MaxDepth())
}

func TestRuleStoreResolvesVersions(t *testing.T) {
	db := testdb.Open(t)
	store := NewRuleStore(db, "")
	ctx := context.Background()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	table, err := store.Active(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, BaselineVersion, table.Version)

	require.NoError(t, store.Publish(ctx, "v1", jan, []models.CommissionRule{
		{Kind: models.RuleKindTeam, Level: 3, Percent: d("0.01")},
	}))
	require.NoError(t, store.Publish(ctx, "v2", jun, []models.CommissionRule{
		{Kind: models.RuleKindTeam, Level: 3, Percent: d("0.02")},
		{Kind: models.RuleKindMonthly, MinVolume: d("100"), Percent: d("0.05")},
	}))
	require.Error(t, store.Publish(ctx, "v1", jun, []models.CommissionRule{{Kind: models.RuleKindTeam, Level: 4, Percent: d("0.01")}}))

	table, err = store.Active(ctx, jan.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, "v1", table.Version)
	assert.Equal(t, "0.01", table.Levels[3].String())
	assert.Empty(t, table.Monthly)

	table, err = store.Active(ctx, jun.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "v2", table.Version)
	assert.Len(t, table.Monthly, 1)

	pinned, err := NewRuleStore(db, "v1").Active(ctx, jun.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, "v1", pinned.Version)
}
