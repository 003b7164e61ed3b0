package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                uint            `gorm:"primaryKey"`
	TelegramID        *int64          `gorm:"uniqueIndex"`
	Username          string          `gorm:"size:255"`
	Role              string          `gorm:"size:16;default:'user'"`
	Blocked           bool            `gorm:"default:false"`
	UplineID          *uint           `gorm:"index"`
	Balance           decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	CumulativeDeposit decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	Qualified         bool            `gorm:"default:false;index"`
	QualifiedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
