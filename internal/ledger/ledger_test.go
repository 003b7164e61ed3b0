package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"earnhub/internal/apperr"
	"earnhub/internal/models"
	"earnhub/internal/testdb"
)

func newUser(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	user := models.User{Username: "alice", Role: models.RoleUser}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func balanceOf(t *testing.T, db *gorm.DB, id uint) decimal.Decimal {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, id).Error)
	return user.Balance
}

func TestPostAppendsAndIncrements(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		db := testdb.Open(t)
		now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
		acc := New(db, transactional, func() time.Time { return now })
		user := newUser(t, db)
		ctx := context.Background()

		entry := &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "tx-1", Amount: decimal.NewFromInt(100)}
		require.NoError(t, acc.Post(ctx, entry))
		assert.NotZero(t, entry.ID)
		assert.True(t, entry.CreatedAt.Equal(now))
		assert.True(t, decimal.NewFromInt(100).Equal(balanceOf(t, db, user.ID)))

		dup := &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "tx-1", Amount: decimal.NewFromInt(100)}
		err := acc.Post(ctx, dup)
		require.ErrorIs(t, err, ErrDuplicate)
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.True(t, decimal.NewFromInt(100).Equal(balanceOf(t, db, user.ID)), "duplicate must not move the balance")

		var count int64
		require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	}
}

func TestPostRejectsInvalidEntries(t *testing.T) {
	db := testdb.Open(t)
	acc := New(db, true, nil)
	user := newUser(t, db)
	ctx := context.Background()

	require.ErrorIs(t, acc.Post(ctx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Amount: decimal.NewFromInt(1)}), ErrInvalidEntry)
	require.ErrorIs(t, acc.Post(ctx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "r"}), ErrInvalidEntry)
	require.ErrorIs(t, acc.Post(ctx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "r", Amount: decimal.RequireFromString("0.000000001")}), ErrInvalidEntry)
}

func TestPostUnknownUserLeavesNoEntry(t *testing.T) {
	for _, transactional := range []bool{true, false} {
		db := testdb.Open(t)
		acc := New(db, transactional, nil)

		err := acc.Post(context.Background(), &models.LedgerEntry{UserID: 999, Type: models.EntryDeposit, Reference: "ghost", Amount: decimal.NewFromInt(5)})
		require.ErrorIs(t, err, ErrUnknownUser)

		var count int64
		require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
		assert.Zero(t, count, "transactional=%t", transactional)
	}
}

func TestUnitRollsBackOnError(t *testing.T) {
	db := testdb.Open(t)
	acc := New(db, true, nil)
	user := newUser(t, db)

	err := acc.Unit(context.Background(), func(tx *gorm.DB) error {
		if err := acc.Append(tx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "a", Amount: decimal.NewFromInt(3)}); err != nil {
			return err
		}
		return acc.Append(tx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "a", Amount: decimal.NewFromInt(3)})
	})
	require.ErrorIs(t, err, ErrDuplicate)
	assert.True(t, balanceOf(t, db, user.ID).IsZero())
}

func TestReconcileRestoresLedgerFold(t *testing.T) {
	db := testdb.Open(t)
	acc := New(db, true, nil)
	user := newUser(t, db)
	ctx := context.Background()

	require.NoError(t, acc.Post(ctx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDeposit, Reference: "d1", Amount: decimal.NewFromInt(100)}))
	require.NoError(t, acc.Post(ctx, &models.LedgerEntry{UserID: user.ID, Type: models.EntryDailyProfit, Reference: "p1", Amount: decimal.RequireFromString("1.5")}))

	drift, err := acc.Reconcile(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, drift.IsZero())

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).UpdateColumn("balance", decimal.NewFromInt(7)).Error)
	drift, err = acc.Reconcile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "94.5", drift.String())
	assert.True(t, decimal.RequireFromString("101.5").Equal(balanceOf(t, db, user.ID)))

	entries, err := acc.Entries(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].Reference)
}

func TestDetectTransactions(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	assert.True(t, DetectTransactions(ctx, db, "auto"))
	assert.True(t, DetectTransactions(ctx, db, "on"))
	assert.False(t, DetectTransactions(ctx, db, "off"))
}
