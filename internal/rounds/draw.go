package rounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"earnhub/internal/models"
	"earnhub/internal/notify"
	"earnhub/internal/users"
)

func (m *Manager) activeParticipants(ctx context.Context, roundID uint) ([]models.Participant, error) {
	var ps []models.Participant
	err := m.db.WithContext(ctx).
		Where("round_id = ? AND status = ?", roundID, models.ParticipantActive).
		Order("id").
		Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("rounds: active participants of round %d: %w", roundID, err)
	}
	return ps, nil
}

// drawAttempts bounds how often a draw is repeated because its pick was
// eliminated before the round closed.
const drawAttempts = 8

// stillActive restricts a round update to the case where participantID has
// not been eliminated.
func stillActive(participantID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("EXISTS (SELECT 1 FROM participants WHERE participants.id = ? AND participants.status = ?)",
			participantID, models.ParticipantActive)
	}
}

func (m *Manager) participantActive(ctx context.Context, participantID uint) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ? AND status = ?", participantID, models.ParticipantActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("rounds: participant %d status: %w", participantID, err)
	}
	return count == 1, nil
}

// drawRandom closes a locked round with a uniformly chosen active
// participant, or with no winner when nobody is left. The close only wins
// while the pick is still active; otherwise the draw is repeated.
func (m *Manager) drawRandom(ctx context.Context, r models.Round) (models.Round, bool, error) {
	for attempt := 0; attempt < drawAttempts; attempt++ {
		ps, err := m.activeParticipants(ctx, r.ID)
		if err != nil {
			return r, false, err
		}
		now := m.now().UTC()
		extra := map[string]any{"closed_at": now}
		var (
			winner *models.Participant
			conds  []func(*gorm.DB) *gorm.DB
		)
		if len(ps) > 0 {
			winner = &ps[m.source.IntN(len(ps))]
			extra["winner_user_id"] = winner.UserID
			extra["winner_participant_id"] = winner.ID
			extra["winner_mode"] = models.WinnerRandom
			extra["winner_selected_at"] = now
			conds = append(conds, stillActive(winner.ID))
		}
		won, err := m.transition(ctx, r.ID, models.RoundLocked, models.RoundClosed, extra, conds...)
		if err != nil {
			return r, false, err
		}
		if won {
			m.announce(ctx, r, winner, models.WinnerRandom)
			closed, err := m.round(ctx, r.ID)
			return closed, true, err
		}

		current, err := m.round(ctx, r.ID)
		if err != nil {
			return current, false, err
		}
		if current.Status != models.RoundLocked || winner == nil {
			return current, false, nil
		}
		slog.Warn("drawn participant eliminated before close, drawing again", "variant", m.cfg.Variant,
			"round_id", r.ID, "participant_id", winner.ID, "attempt", attempt+1)
	}
	return r, false, fmt.Errorf("rounds: draw of round %d lost to eliminations %d times", r.ID, drawAttempts)
}

func (m *Manager) announce(ctx context.Context, r models.Round, winner *models.Participant, mode string) {
	text := fmt.Sprintf("%s round #%d closed without a winner", m.cfg.Variant, r.Number)
	if winner != nil {
		text = fmt.Sprintf("%s round #%d closed, %s winner: user %d (participant %s)",
			m.cfg.Variant, r.Number, mode, winner.UserID, winner.HashedUserID)
	}
	slog.Info("round closed", "variant", m.cfg.Variant, "round_id", r.ID, "mode", mode, "has_winner", winner != nil)
	notify.Best(ctx, m.notifier, text)
}

// closedConflict explains why a closed round cannot be drawn again.
func closedConflict(r models.Round) error {
	if r.WinnerUserID != nil {
		return ErrWinnerAlreadySet
	}
	return ErrRoundClosed
}

// RandomizeWinner draws the winner of roundID once. An open round is locked
// first. Drawing a closed round fails and leaves the recorded winner alone.
func (m *Manager) RandomizeWinner(ctx context.Context, actorID, roundID uint) (models.Round, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Round{}, err
	}
	r, err := m.round(ctx, roundID)
	if err != nil {
		return r, err
	}
	switch r.Status {
	case models.RoundClosed:
		return r, closedConflict(r)
	case models.RoundPending:
		return r, ErrRoundNotOpen
	case models.RoundOpen:
		if _, err := m.TryTransition(ctx, r.ID, models.RoundOpen, models.RoundLocked, nil); err != nil {
			return r, err
		}
		r.Status = models.RoundLocked
	}

	closed, won, err := m.drawRandom(ctx, r)
	if err != nil {
		return closed, err
	}
	if !won {
		current, err := m.round(ctx, roundID)
		if err != nil {
			return current, err
		}
		return current, closedConflict(current)
	}
	return closed, nil
}

// ManuallySetWinner records userID as the winner of roundID. It replaces a
// random result until that winner is paid. A manual result is final.
func (m *Manager) ManuallySetWinner(ctx context.Context, actorID, roundID, userID uint) (models.Round, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Round{}, err
	}
	r, err := m.round(ctx, roundID)
	if err != nil {
		return r, err
	}
	if r.Status == models.RoundPending {
		return r, ErrRoundNotOpen
	}
	if r.Status == models.RoundClosed && (r.WinnerMode == models.WinnerManual || r.WinnerPaid) {
		return r, ErrWinnerAlreadySet
	}

	var p models.Participant
	err = m.db.WithContext(ctx).
		Where("round_id = ? AND user_id = ? AND status = ?", roundID, userID, models.ParticipantActive).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r, ErrNotParticipant
	}
	if err != nil {
		return r, fmt.Errorf("rounds: participant %d of round %d: %w", userID, roundID, err)
	}

	now := m.now().UTC()
	fields := map[string]any{
		"winner_user_id":        p.UserID,
		"winner_participant_id": p.ID,
		"winner_mode":           models.WinnerManual,
		"winner_selected_at":    now,
	}

	if r.Status == models.RoundOpen {
		if _, err := m.TryTransition(ctx, r.ID, models.RoundOpen, models.RoundLocked, nil); err != nil {
			return r, err
		}
		r.Status = models.RoundLocked
	}

	var won bool
	if r.Status == models.RoundLocked {
		fields["closed_at"] = now
		won, err = m.transition(ctx, r.ID, models.RoundLocked, models.RoundClosed, fields, stillActive(p.ID))
		if err != nil {
			return r, err
		}
	}
	if !won {
		// Closed by now, possibly by a concurrent random draw: override it.
		res := m.db.WithContext(ctx).Model(&models.Round{}).
			Scopes(stillActive(p.ID)).
			Where("id = ? AND status = ? AND winner_paid = ? AND (winner_mode IS NULL OR winner_mode <> ?)",
				r.ID, models.RoundClosed, false, models.WinnerManual).
			Updates(fields)
		if res.Error != nil {
			slog.Error("manual winner failed", "op", "manual-winner", "variant", m.cfg.Variant, "round_id", r.ID, "user_id", userID, "error", res.Error)
			return r, fmt.Errorf("rounds: manual winner of round %d: %w", r.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			active, err := m.participantActive(ctx, p.ID)
			if err != nil {
				return r, err
			}
			if !active {
				return r, ErrNotParticipant
			}
			current, err := m.round(ctx, roundID)
			if err != nil {
				return current, err
			}
			if current.Status != models.RoundClosed {
				return current, ErrRoundNotOpen
			}
			return current, ErrWinnerAlreadySet
		}
		m.invalidate(ctx)
	}

	slog.Info("manual winner set", "variant", m.cfg.Variant, "round_id", r.ID, "user_id", userID, "actor_id", actorID)
	m.announce(ctx, r, &p, models.WinnerManual)
	return m.round(ctx, roundID)
}

// MarkWinnerPaid flags the payout of a closed round. It is the only change a
// closed round accepts.
func (m *Manager) MarkWinnerPaid(ctx context.Context, actorID, roundID uint) (models.Round, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Round{}, err
	}
	res := m.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND variant = ? AND status = ? AND winner_user_id IS NOT NULL AND winner_paid = ?",
			roundID, m.cfg.Variant, models.RoundClosed, false).
		Update("winner_paid", true)
	if res.Error != nil {
		return models.Round{}, fmt.Errorf("rounds: mark round %d paid: %w", roundID, res.Error)
	}
	r, err := m.round(ctx, roundID)
	if err != nil {
		return r, err
	}
	if res.RowsAffected == 1 {
		slog.Info("winner marked paid", "variant", m.cfg.Variant, "round_id", roundID, "actor_id", actorID)
		m.invalidate(ctx)
		return r, nil
	}
	switch {
	case r.Status != models.RoundClosed:
		return r, ErrRoundNotClosed
	case r.WinnerUserID == nil:
		return r, ErrNoWinner
	default:
		return r, ErrAlreadyPaid
	}
}
