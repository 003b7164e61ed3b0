package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RuleKindTeam    = "team"
	RuleKindMonthly = "monthly"
)

// CommissionRule rows are never edited; a policy change inserts a new version.
type CommissionRule struct {
	ID            uint            `gorm:"primaryKey"`
	PolicyVersion string          `gorm:"size:64;not null;uniqueIndex:idx_rule_key,priority:1"`
	Kind          string          `gorm:"size:16;not null;uniqueIndex:idx_rule_key,priority:2"`
	Level         int             `gorm:"not null;default:0;uniqueIndex:idx_rule_key,priority:3"`
	MinVolume     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0;uniqueIndex:idx_rule_key,priority:4"`
	Percent       decimal.Decimal `gorm:"type:decimal(10,6);not null"`
	EffectiveFrom time.Time       `gorm:"not null;index"`
	CreatedAt     time.Time
}

// DailyProfitRecord is the DGP: one posted mining profit per user per window.
type DailyProfitRecord struct {
	ID              uint            `gorm:"primaryKey"`
	UserID          uint            `gorm:"not null;uniqueIndex:idx_dgp_user_window,priority:1"`
	WindowKey       string          `gorm:"size:10;not null;uniqueIndex:idx_dgp_user_window,priority:2;index"`
	WindowStart     time.Time       `gorm:"not null"`
	WindowEnd       time.Time       `gorm:"not null"`
	Base            decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Rate            decimal.Decimal `gorm:"type:decimal(10,6);not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	SourceQualified bool            `gorm:"not null"`
	ClaimedAt       *time.Time      `gorm:"index"`
	CreatedAt       time.Time
}

// TeamDailyClaim is the audit row of one override payout to an upline.
type TeamDailyClaim struct {
	ID            uint            `gorm:"primaryKey"`
	UserID        uint            `gorm:"not null;uniqueIndex:idx_claim_key,priority:1"`
	SourceUserID  uint            `gorm:"not null;uniqueIndex:idx_claim_key,priority:2"`
	WindowKey     string          `gorm:"size:10;not null;uniqueIndex:idx_claim_key,priority:3;index"`
	DailyProfitID uint            `gorm:"not null;index"`
	Level         int             `gorm:"not null"`
	Rate          decimal.Decimal `gorm:"type:decimal(10,6);not null"`
	Base          decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	PolicyVersion string          `gorm:"size:64"`
	CreatedAt     time.Time       `gorm:"index"`
}
