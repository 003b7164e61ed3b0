// Package ledger owns every balance mutation. An entry append and the matching
// balance increment form one unit of work; (type, reference) makes appends
// idempotent at the store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"earnhub/internal/apperr"
	"earnhub/internal/models"
)

// AmountPlaces is the precision every posted amount is rounded to.
const AmountPlaces = 8

var (
	// ErrDuplicate means an entry with the same type and reference exists.
	ErrDuplicate = fmt.Errorf("%w: ledger: entry already posted", apperr.ErrConflict)
	// ErrUnknownUser means the entry targets a user that does not exist.
	ErrUnknownUser = fmt.Errorf("%w: ledger: unknown user", apperr.ErrNotFound)
	// ErrInvalidEntry means a required field is missing or the amount is zero.
	ErrInvalidEntry = fmt.Errorf("%w: ledger: invalid entry", apperr.ErrValidation)
)

type Accessor struct {
	db            *gorm.DB
	transactional bool
	now           func() time.Time
}

func New(db *gorm.DB, transactional bool, now func() time.Time) *Accessor {
	if now == nil {
		now = time.Now
	}
	return &Accessor{db: db, transactional: transactional, now: now}
}

// DetectTransactions resolves the STORE_TRANSACTIONS mode. In auto mode a no-op
// transaction is attempted and any failure selects the sequential fallback.
func DetectTransactions(ctx context.Context, db *gorm.DB, mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "on", "true":
		return true
	case "off", "false":
		slog.Warn("multi-document transactions disabled, postings run sequentially")
		return false
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Exec("SELECT 1").Error
	})
	if err != nil {
		slog.Warn("store rejected transactions, postings run sequentially", "error", err)
		return false
	}
	return true
}

func (a *Accessor) Transactional() bool { return a.transactional }

func (a *Accessor) Now() time.Time { return a.now().UTC() }

// Unit runs fn inside a transaction when the store supports one. Otherwise fn
// runs directly against the store and each write commits on its own.
func (a *Accessor) Unit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db := a.db.WithContext(ctx)
	if a.transactional {
		return db.Transaction(fn)
	}
	return fn(db)
}

// Post appends entry and moves the balance as one unit.
func (a *Accessor) Post(ctx context.Context, entry *models.LedgerEntry) error {
	return a.Unit(ctx, func(tx *gorm.DB) error {
		return a.Append(tx, entry)
	})
}

// Append writes entry through tx, which is a transaction handle from Unit or
// the plain store in fallback mode.
func (a *Accessor) Append(tx *gorm.DB, entry *models.LedgerEntry) error {
	if entry == nil || entry.UserID == 0 || entry.Type == "" || entry.Reference == "" {
		return ErrInvalidEntry
	}
	entry.Amount = entry.Amount.Round(AmountPlaces)
	if entry.Amount.IsZero() {
		return ErrInvalidEntry
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.Now()
	}

	if !a.transactional {
		// Without a rollback the user must be known before the append lands.
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", entry.UserID).Count(&count).Error; err != nil {
			return fmt.Errorf("ledger: lookup user %d: %w", entry.UserID, err)
		}
		if count == 0 {
			return ErrUnknownUser
		}
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(entry)
	if res.Error != nil {
		return fmt.Errorf("ledger: append %s %s: %w", entry.Type, entry.Reference, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}

	res = tx.Model(&models.User{}).
		Where("id = ?", entry.UserID).
		UpdateColumn("balance", gorm.Expr("balance + ?", entry.Amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: increment balance of user %d: %w", entry.UserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

// Sum folds the ledger of a user.
func (a *Accessor) Sum(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum user %d: %w", userID, err)
	}
	return total.Round(AmountPlaces), nil
}

// Reconcile rewrites the cached balance of a user from the ledger fold and
// returns the drift that was corrected.
func (a *Accessor) Reconcile(ctx context.Context, userID uint) (decimal.Decimal, error) {
	total, err := a.Sum(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	var user models.User
	if err := a.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrUnknownUser
		}
		return decimal.Zero, err
	}
	drift := total.Sub(user.Balance)
	if drift.IsZero() {
		return drift, nil
	}
	err = a.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("balance", total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: reconcile user %d: %w", userID, err)
	}
	slog.Warn("balance reconciled against ledger", "user_id", userID, "drift", drift.String())
	return drift, nil
}

// Entries lists the newest entries of a user.
func (a *Accessor) Entries(ctx context.Context, userID uint, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := a.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
