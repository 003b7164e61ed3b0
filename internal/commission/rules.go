// Package commission evaluates payout rules and redistributes posted mining
// profit up the referral forest.
package commission

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"earnhub/internal/models"
)

// BaselineVersion names the rule table used when no policy rows exist.
const BaselineVersion = "baseline"

var (
	// DirectRate is the level 1 override, fixed by policy.
	DirectRate = decimal.RequireFromString("0.15")
	// SecondLevelRate is the level 2 override, fixed by policy.
	SecondLevelRate = decimal.RequireFromString("0.03")
)

// Tier is one monthly bonus step.
type Tier struct {
	MinVolume decimal.Decimal
	Percent   decimal.Decimal
}

// RuleTable is one resolved policy version. Levels covers overrides beyond
// level 2; Monthly is sorted by ascending MinVolume.
type RuleTable struct {
	Version string
	Levels  map[int]decimal.Decimal
	Monthly []Tier
}

// Evaluate maps an upline level to its override percentage. Users below the
// qualifying deposit generate nothing for their uplines.
func Evaluate(level int, table RuleTable, userQualified bool) decimal.Decimal {
	if !userQualified || level <= 0 {
		return decimal.Zero
	}
	switch level {
	case 1:
		return DirectRate
	case 2:
		return SecondLevelRate
	}
	if pct, ok := table.Levels[level]; ok {
		return pct
	}
	return decimal.Zero
}

// MaxDepth is the deepest level that can earn an override.
func (t RuleTable) MaxDepth() int {
	depth := 2
	for level, pct := range t.Levels {
		if level > depth && pct.IsPositive() {
			depth = level
		}
	}
	return depth
}

// MonthlyRate returns the percentage of the highest tier reached by volume.
func (t RuleTable) MonthlyRate(volume decimal.Decimal) decimal.Decimal {
	rate := decimal.Zero
	for _, tier := range t.Monthly {
		if volume.GreaterThanOrEqual(tier.MinVolume) {
			rate = tier.Percent
		}
	}
	return rate
}

// BuildTable assembles a table from the rows of one policy version.
func BuildTable(version string, rows []models.CommissionRule) RuleTable {
	table := RuleTable{Version: version, Levels: map[int]decimal.Decimal{}}
	for _, r := range rows {
		switch r.Kind {
		case models.RuleKindTeam:
			if r.Level > 2 {
				table.Levels[r.Level] = r.Percent
			}
		case models.RuleKindMonthly:
			table.Monthly = append(table.Monthly, Tier{MinVolume: r.MinVolume, Percent: r.Percent})
		}
	}
	sort.Slice(table.Monthly, func(i, j int) bool {
		return table.Monthly[i].MinVolume.LessThan(table.Monthly[j].MinVolume)
	})
	return table
}

// RuleStore resolves versioned rule tables. Pinned forces a version regardless
// of effective dates.
type RuleStore struct {
	db     *gorm.DB
	pinned string
}

func NewRuleStore(db *gorm.DB, pinned string) *RuleStore {
	return &RuleStore{db: db, pinned: pinned}
}

// Active returns the newest version effective at asOf.
func (s *RuleStore) Active(ctx context.Context, asOf time.Time) (RuleTable, error) {
	db := s.db.WithContext(ctx)
	version := s.pinned
	if version == "" {
		var latest models.CommissionRule
		res := db.Where("effective_from <= ?", asOf.UTC()).
			Order("effective_from DESC").Order("id DESC").
			Limit(1).Find(&latest)
		if res.Error != nil {
			return RuleTable{}, fmt.Errorf("commission: resolve policy: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return BuildTable(BaselineVersion, nil), nil
		}
		version = latest.PolicyVersion
	}

	var rows []models.CommissionRule
	if err := db.Where("policy_version = ?", version).Find(&rows).Error; err != nil {
		return RuleTable{}, fmt.Errorf("commission: load policy %s: %w", version, err)
	}
	return BuildTable(version, rows), nil
}

// Publish inserts a new policy version. Existing versions are never touched.
func (s *RuleStore) Publish(ctx context.Context, version string, effectiveFrom time.Time, rules []models.CommissionRule) error {
	if version == "" || len(rules) == 0 {
		return fmt.Errorf("commission: policy version and rules are required")
	}
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.CommissionRule{}).Where("policy_version = ?", version).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("commission: policy %s already published", version)
	}
	for i := range rules {
		rules[i].ID = 0
		rules[i].PolicyVersion = version
		rules[i].EffectiveFrom = effectiveFrom.UTC()
	}
	// One multi-row insert; the unique rule key rejects a concurrent publish.
	return db.Create(&rules).Error
}
