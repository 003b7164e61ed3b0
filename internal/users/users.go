// Package users registers members of the referral forest and tracks their
// qualifying deposits.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"earnhub/internal/apperr"
	"earnhub/internal/ledger"
	"earnhub/internal/models"
)

var (
	ErrUserNotFound   = fmt.Errorf("%w: users: user not found", apperr.ErrNotFound)
	ErrUplineNotFound = fmt.Errorf("%w: users: upline not found", apperr.ErrValidation)
	ErrInvalidAmount  = fmt.Errorf("%w: users: deposit amount must be positive", apperr.ErrValidation)
	ErrMissingRef     = fmt.Errorf("%w: users: deposit reference is required", apperr.ErrValidation)
	ErrNotAdmin       = fmt.Errorf("%w: users: admin role required", apperr.ErrForbidden)
)

type Service struct {
	db                *gorm.DB
	ledger            *ledger.Accessor
	qualifyingDeposit decimal.Decimal
}

func NewService(db *gorm.DB, acc *ledger.Accessor, qualifyingDeposit decimal.Decimal) *Service {
	return &Service{db: db, ledger: acc, qualifyingDeposit: qualifyingDeposit}
}

// Register creates a user. The upline is fixed here and never rewritten, so a
// new node can never close a cycle.
func (s *Service) Register(ctx context.Context, username string, telegramID *int64, uplineID *uint) (*models.User, error) {
	db := s.db.WithContext(ctx)
	if uplineID != nil {
		var count int64
		if err := db.Model(&models.User{}).Where("id = ?", *uplineID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrUplineNotFound
		}
	}

	user := models.User{
		Username:   strings.TrimSpace(username),
		TelegramID: telegramID,
		Role:       models.RoleUser,
		UplineID:   uplineID,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("users: create %q: %w", user.Username, err)
	}
	slog.Info("user registered", "user_id", user.ID, "upline_id", uplineID)
	return &user, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// RecordDeposit credits an approved mining deposit. Qualification flips once
// the cumulative deposit reaches the threshold and is never revoked. A
// redelivered deposit returns ledger.ErrDuplicate after the cumulative total
// and qualification have been refolded from the ledger, which completes a
// fallback-mode posting that stopped after its ledger entry.
func (s *Service) RecordDeposit(ctx context.Context, userID uint, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if reference = strings.TrimSpace(reference); reference == "" {
		return ErrMissingRef
	}

	err := s.ledger.Unit(ctx, func(tx *gorm.DB) error {
		entry := &models.LedgerEntry{
			UserID:    userID,
			Type:      models.EntryDeposit,
			Reference: reference,
			Amount:    amount,
		}
		if err := s.ledger.Append(tx, entry); err != nil {
			if errors.Is(err, ledger.ErrUnknownUser) {
				return ErrUserNotFound
			}
			return err
		}

		err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("cumulative_deposit", gorm.Expr("cumulative_deposit + ?", entry.Amount)).Error
		if err != nil {
			return fmt.Errorf("users: cumulative deposit of %d: %w", userID, err)
		}
		return s.qualify(tx, userID)
	})
	if errors.Is(err, ledger.ErrDuplicate) {
		if rerr := s.refoldDeposits(ctx, userID); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

// refoldDeposits rewrites the cumulative deposit of a user from the deposit
// ledger entries and reruns qualification.
func (s *Service) refoldDeposits(ctx context.Context, userID uint) error {
	db := s.db.WithContext(ctx)
	var total decimal.Decimal
	err := db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND type = ?", userID, models.EntryDeposit).
		Row().
		Scan(&total)
	if err != nil {
		return fmt.Errorf("users: fold deposits of %d: %w", userID, err)
	}
	var user models.User
	if err := db.Select("id", "cumulative_deposit").First(&user, userID).Error; err != nil {
		return fmt.Errorf("users: load %d: %w", userID, err)
	}
	if !user.CumulativeDeposit.Equal(total) {
		err := db.Model(&models.User{}).Where("id = ?", userID).UpdateColumn("cumulative_deposit", total).Error
		if err != nil {
			return fmt.Errorf("users: refold cumulative deposit of %d: %w", userID, err)
		}
		slog.Warn("cumulative deposit refolded from ledger", "user_id", userID,
			"cached", user.CumulativeDeposit.String(), "total", total.String())
	}
	return s.qualify(db, userID)
}

func (s *Service) qualify(tx *gorm.DB, userID uint) error {
	res := tx.Model(&models.User{}).
		Where("id = ? AND qualified = ? AND cumulative_deposit >= ?", userID, false, s.qualifyingDeposit).
		Updates(map[string]any{"qualified": true, "qualified_at": s.ledger.Now()})
	if res.Error != nil {
		return fmt.Errorf("users: qualify %d: %w", userID, res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("user qualified", "user_id", userID, "threshold", s.qualifyingDeposit.String())
	}
	return nil
}

// SetBlocked blocks or unblocks a user. Blocked users earn no mining profit,
// no overrides and cannot join rounds.
func (s *Service) SetBlocked(ctx context.Context, actorID, userID uint, blocked bool) error {
	if err := s.RequireAdmin(ctx, actorID); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("blocked", blocked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	slog.Info("user block flag changed", "user_id", userID, "blocked", blocked, "actor_id", actorID)
	return nil
}

// RequireAdmin fails with ErrNotAdmin unless actorID is an admin.
func (s *Service) RequireAdmin(ctx context.Context, actorID uint) error {
	return RequireAdmin(s.db.WithContext(ctx), actorID)
}

func RequireAdmin(db *gorm.DB, actorID uint) error {
	var user models.User
	if err := db.Select("id", "role").First(&user, actorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotAdmin
		}
		return err
	}
	if !user.IsAdmin() {
		return ErrNotAdmin
	}
	return nil
}
