package rounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"earnhub/internal/database"
	"earnhub/internal/models"
	"earnhub/internal/users"
)

var txIDPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// NormalizeTxID returns the lower case 0x-prefixed form of a transaction id.
func NormalizeTxID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !txIDPattern.MatchString(raw) {
		return "", ErrInvalidTxID
	}
	return "0x" + strings.ToLower(strings.TrimPrefix(raw, "0x")), nil
}

// NormalizeAddress returns the checksummed form of an EVM address.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(raw).Hex(), nil
}

// HashedID is the public identity of a user inside one round.
func (m *Manager) HashedID(roundID, userID uint) string {
	return uuid.NewSHA1(m.cfg.Namespace, []byte(fmt.Sprintf("%d:%d", roundID, userID))).String()
}

type DepositRequest struct {
	UserID  uint
	TxID    string
	Address string
	Amount  decimal.Decimal
}

// SubmitDeposit records a pending entry into the open round. The entry counts
// only once an admin approves it.
func (m *Manager) SubmitDeposit(ctx context.Context, req DepositRequest) (models.Deposit, error) {
	txID, err := NormalizeTxID(req.TxID)
	if err != nil {
		return models.Deposit{}, err
	}
	address, err := NormalizeAddress(req.Address)
	if err != nil {
		return models.Deposit{}, err
	}
	if req.Amount.LessThan(m.cfg.EntryAmount) || !req.Amount.IsPositive() {
		return models.Deposit{}, fmt.Errorf("%w: need %s", ErrAmountTooLow, m.cfg.EntryAmount.String())
	}

	db := m.db.WithContext(ctx)
	var user models.User
	if err := db.Select("id", "blocked").First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Deposit{}, users.ErrUserNotFound
		}
		return models.Deposit{}, fmt.Errorf("rounds: load user %d: %w", req.UserID, err)
	}
	if user.Blocked {
		return models.Deposit{}, ErrUserBlocked
	}

	r, ok, err := m.latest(ctx)
	if err != nil {
		return models.Deposit{}, err
	}
	if !ok || r.Status != models.RoundOpen || !m.now().Before(r.EndTime) {
		return models.Deposit{}, ErrRoundNotOpen
	}

	var banned int64
	err = db.Model(&models.BanRecord{}).
		Where("variant = ? AND (user_id = ? OR address = ?)", m.cfg.Variant, req.UserID, address).
		Count(&banned).Error
	if err != nil {
		return models.Deposit{}, fmt.Errorf("rounds: ban lookup for user %d: %w", req.UserID, err)
	}
	if banned > 0 {
		slog.Warn("banned join rejected", "op", "submit-deposit", "variant", m.cfg.Variant, "round_id", r.ID, "user_id", req.UserID)
		return models.Deposit{}, ErrBanned
	}

	var joined int64
	err = db.Model(&models.Deposit{}).
		Where("round_id = ? AND user_id = ? AND status <> ?", r.ID, req.UserID, models.DepositRejected).
		Count(&joined).Error
	if err != nil {
		return models.Deposit{}, fmt.Errorf("rounds: existing entry of user %d: %w", req.UserID, err)
	}
	if joined > 0 {
		return models.Deposit{}, ErrAlreadyJoined
	}
	var used int64
	if err := db.Model(&models.Deposit{}).Where("tx_id = ?", txID).Count(&used).Error; err != nil {
		return models.Deposit{}, fmt.Errorf("rounds: tx id lookup: %w", err)
	}
	if used > 0 {
		return models.Deposit{}, ErrTxIDUsed
	}

	dep := models.Deposit{
		RoundID: r.ID,
		Variant: m.cfg.Variant,
		UserID:  req.UserID,
		TxID:    txID,
		Address: address,
		Amount:  req.Amount,
		Status:  models.DepositPending,
	}
	if err := db.Create(&dep).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return models.Deposit{}, ErrAlreadyJoined
		}
		slog.Error("deposit submission failed", "op", "submit-deposit", "variant", m.cfg.Variant, "round_id", r.ID, "user_id", req.UserID, "error", err)
		return models.Deposit{}, fmt.Errorf("rounds: create deposit: %w", err)
	}
	slog.Info("deposit submitted", "variant", m.cfg.Variant, "round_id", r.ID, "user_id", req.UserID, "deposit_id", dep.ID)
	return dep, nil
}

func (m *Manager) deposit(ctx context.Context, depositID uint) (models.Deposit, error) {
	var dep models.Deposit
	err := m.db.WithContext(ctx).Where("id = ? AND variant = ?", depositID, m.cfg.Variant).First(&dep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dep, ErrDepositNotFound
	}
	if err != nil {
		return dep, fmt.Errorf("rounds: load deposit %d: %w", depositID, err)
	}
	return dep, nil
}

var errRoundMoved = errors.New("rounds: round left open during approval")

// ApproveDeposit turns a pending deposit into a participant while the round
// is open, in one transaction.
func (m *Manager) ApproveDeposit(ctx context.Context, actorID, depositID uint) (models.Participant, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Participant{}, err
	}
	dep, err := m.deposit(ctx, depositID)
	if err != nil {
		return models.Participant{}, err
	}
	if dep.Status != models.DepositPending {
		return models.Participant{}, ErrDepositReviewed
	}

	now := m.now().UTC()
	p := models.Participant{
		RoundID:      dep.RoundID,
		UserID:       dep.UserID,
		DepositID:    dep.ID,
		HashedUserID: m.HashedID(dep.RoundID, dep.UserID),
		Status:       models.ParticipantActive,
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Deposit{}).
			Where("id = ? AND status = ?", dep.ID, models.DepositPending).
			Updates(map[string]any{"status": models.DepositApproved, "reviewed_by": actorID, "reviewed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrDepositReviewed
		}
		if err := tx.Create(&p).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrAlreadyJoined
			}
			return err
		}
		res = tx.Model(&models.Round{}).
			Where("id = ? AND status = ?", dep.RoundID, models.RoundOpen).
			Updates(map[string]any{
				"total_participants": gorm.Expr("total_participants + 1"),
				"pot_amount":         gorm.Expr("pot_amount + ?", dep.Amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errRoundMoved
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errRoundMoved):
		return models.Participant{}, ErrRoundNotOpen
	case errors.Is(err, ErrDepositReviewed), errors.Is(err, ErrAlreadyJoined):
		return models.Participant{}, err
	default:
		slog.Error("deposit approval failed", "op", "approve-deposit", "variant", m.cfg.Variant,
			"round_id", dep.RoundID, "user_id", dep.UserID, "deposit_id", dep.ID, "error", err)
		return models.Participant{}, fmt.Errorf("rounds: approve deposit %d: %w", dep.ID, err)
	}

	slog.Info("deposit approved", "variant", m.cfg.Variant, "round_id", dep.RoundID, "user_id", dep.UserID,
		"deposit_id", dep.ID, "actor_id", actorID)
	m.invalidate(ctx)
	return p, nil
}

// RejectDeposit declines a pending deposit. The user may submit again.
func (m *Manager) RejectDeposit(ctx context.Context, actorID, depositID uint, reason string) (models.Deposit, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Deposit{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Deposit{}, ErrReasonRequired
	}
	dep, err := m.deposit(ctx, depositID)
	if err != nil {
		return dep, err
	}
	res := m.db.WithContext(ctx).Model(&models.Deposit{}).
		Where("id = ? AND status = ?", dep.ID, models.DepositPending).
		Updates(map[string]any{
			"status":        models.DepositRejected,
			"reviewed_by":   actorID,
			"reviewed_at":   m.now().UTC(),
			"reject_reason": reason,
		})
	if res.Error != nil {
		return dep, fmt.Errorf("rounds: reject deposit %d: %w", dep.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return dep, ErrDepositReviewed
	}
	slog.Info("deposit rejected", "variant", m.cfg.Variant, "round_id", dep.RoundID, "user_id", dep.UserID,
		"deposit_id", dep.ID, "actor_id", actorID, "reason", reason)
	return m.deposit(ctx, dep.ID)
}

// Ban blocks future joins by a user, an address, or both. Existing entries
// stay active until voided.
func (m *Manager) Ban(ctx context.Context, actorID uint, userID *uint, address, reason string) (models.BanRecord, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.BanRecord{}, err
	}
	ban := models.BanRecord{Variant: m.cfg.Variant, UserID: userID, Reason: strings.TrimSpace(reason), CreatedBy: actorID}
	if strings.TrimSpace(address) != "" {
		norm, err := NormalizeAddress(address)
		if err != nil {
			return ban, err
		}
		ban.Address = norm
	}
	if ban.UserID == nil && ban.Address == "" {
		return ban, ErrBanTarget
	}
	if err := m.db.WithContext(ctx).Create(&ban).Error; err != nil {
		return ban, fmt.Errorf("rounds: create ban: %w", err)
	}
	slog.Info("ban recorded", "variant", m.cfg.Variant, "ban_id", ban.ID, "actor_id", actorID)
	return ban, nil
}

// Unban lifts a ban. The record is kept as history.
func (m *Manager) Unban(ctx context.Context, actorID, banID uint) error {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return err
	}
	res := m.db.WithContext(ctx).Where("id = ? AND variant = ?", banID, m.cfg.Variant).Delete(&models.BanRecord{})
	if res.Error != nil {
		return fmt.Errorf("rounds: unban %d: %w", banID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBanNotFound
	}
	slog.Info("ban lifted", "variant", m.cfg.Variant, "ban_id", banID, "actor_id", actorID)
	return nil
}

// VoidEntry eliminates a participant of a round that has not closed. The
// deposit is left as it was.
func (m *Manager) VoidEntry(ctx context.Context, actorID, participantID uint, reason string) (models.Participant, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Participant{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Participant{}, ErrReasonRequired
	}
	db := m.db.WithContext(ctx)
	live := db.Model(&models.Round{}).Select("id").Where("variant = ? AND status <> ?", m.cfg.Variant, models.RoundClosed)
	res := db.Model(&models.Participant{}).
		Where("id = ? AND status = ? AND round_id IN (?)", participantID, models.ParticipantActive, live).
		Updates(map[string]any{
			"status":            models.ParticipantEliminated,
			"eliminated_reason": reason,
			"eliminated_by":     actorID,
			"eliminated_at":     m.now().UTC(),
		})
	if res.Error != nil {
		return models.Participant{}, fmt.Errorf("rounds: void participant %d: %w", participantID, res.Error)
	}

	var p models.Participant
	if err := db.First(&p, participantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p, ErrParticipantNotFound
		}
		return p, fmt.Errorf("rounds: load participant %d: %w", participantID, err)
	}
	if res.RowsAffected == 1 {
		slog.Info("entry voided", "variant", m.cfg.Variant, "round_id", p.RoundID, "user_id", p.UserID,
			"participant_id", p.ID, "actor_id", actorID, "reason", reason)
		return p, nil
	}
	r, err := m.round(ctx, p.RoundID)
	if err != nil {
		return p, err
	}
	if r.Status == models.RoundClosed {
		return p, ErrRoundClosed
	}
	return p, ErrNotActive
}
