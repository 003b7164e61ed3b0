package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryDeposit            = "deposit"
	EntryDailyProfit        = "daily-profit"
	EntryTeamOverride       = "team-override"
	EntryOverrideAdjustment = "team-override-adjustment"
	EntryMonthlyBonus       = "monthly-bonus"
)

// LedgerEntry is append-only. (Type, Reference) is the idempotency key.
type LedgerEntry struct {
	ID        uint            `gorm:"primaryKey"`
	UserID    uint            `gorm:"not null;index"`
	Type      string          `gorm:"size:32;not null;uniqueIndex:idx_ledger_type_ref,priority:1"`
	Reference string          `gorm:"size:191;not null;uniqueIndex:idx_ledger_type_ref,priority:2"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Memo      string          `gorm:"size:255"`
	CreatedAt time.Time       `gorm:"index"`
}
