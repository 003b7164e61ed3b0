package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	VariantBlindBox = "blindbox"
	VariantGiftBox  = "giftbox"
)

const (
	RoundPending = "pending"
	RoundOpen    = "open"
	RoundLocked  = "locked"
	RoundClosed  = "closed"
)

const (
	WinnerRandom = "random"
	WinnerManual = "manual"
)

type Round struct {
	ID                  uint            `gorm:"primaryKey"`
	Variant             string          `gorm:"size:16;not null;uniqueIndex:idx_round_number,priority:1;uniqueIndex:idx_round_active,where:status <> 'closed'"`
	Number              int             `gorm:"not null;uniqueIndex:idx_round_number,priority:2"`
	Status              string          `gorm:"size:16;not null;index"`
	StartTime           time.Time       `gorm:"not null"`
	EndTime             time.Time       `gorm:"not null"`
	TotalParticipants   int             `gorm:"not null;default:0"`
	PotAmount           decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	WinnerUserID        *uint
	WinnerParticipantID *uint
	WinnerMode          string `gorm:"size:16"`
	WinnerSelectedAt    *time.Time
	WinnerPaid          bool `gorm:"default:false"`
	ClosedAt            *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DisplayStatus renames locked to drawing for the blind box.
func (r Round) DisplayStatus() string {
	if r.Variant == VariantBlindBox && r.Status == RoundLocked {
		return "drawing"
	}
	return r.Status
}

const (
	ParticipantActive     = "active"
	ParticipantEliminated = "eliminated"
)

type Participant struct {
	ID               uint   `gorm:"primaryKey"`
	RoundID          uint   `gorm:"not null;uniqueIndex:idx_participant_round_user,priority:1"`
	UserID           uint   `gorm:"not null;uniqueIndex:idx_participant_round_user,priority:2"`
	DepositID        uint   `gorm:"not null;uniqueIndex"`
	HashedUserID     string `gorm:"size:36;not null;index"`
	Status           string `gorm:"size:16;not null;default:'active'"`
	EliminatedReason string `gorm:"size:255"`
	EliminatedBy     *uint
	EliminatedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	DepositPending  = "pending"
	DepositApproved = "approved"
	DepositRejected = "rejected"
)

type Deposit struct {
	ID           uint            `gorm:"primaryKey"`
	RoundID      uint            `gorm:"not null;index;uniqueIndex:idx_deposit_round_user,priority:1,where:status <> 'rejected'"`
	Variant      string          `gorm:"size:16;not null"`
	UserID       uint            `gorm:"not null;index;uniqueIndex:idx_deposit_round_user,priority:2,where:status <> 'rejected'"`
	TxID         string          `gorm:"size:80;not null;uniqueIndex"`
	Address      string          `gorm:"size:64;index"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Status       string          `gorm:"size:16;not null;default:'pending';index"`
	ReviewedBy   *uint
	ReviewedAt   *time.Time
	RejectReason string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BanRecord blocks future joins of a user or address. Unban soft deletes.
type BanRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Variant   string `gorm:"size:16;not null;index"`
	UserID    *uint  `gorm:"index"`
	Address   string `gorm:"size:64;index"`
	Reason    string `gorm:"size:255"`
	CreatedBy uint
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}
