package rounds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"earnhub/internal/models"
)

// Summary is the round payload shown to users.
type Summary struct {
	ID                uint      `json:"id"`
	Status            string    `json:"status"`
	EndTime           time.Time `json:"endTime"`
	TotalParticipants int       `json:"totalParticipants"`
	Winner            *Winner   `json:"winner"`
}

// Winner carries the hashed participant id, never the user id.
type Winner struct {
	ParticipantID string     `json:"participantId"`
	Mode          string     `json:"mode"`
	SelectedAt    *time.Time `json:"selectedAt,omitempty"`
	Paid          bool       `json:"paid"`
}

func (m *Manager) summaryKey() string {
	return "round_summary:" + m.cfg.Variant
}

func (m *Manager) invalidate(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Del(ctx, m.summaryKey()).Err(); err != nil {
		slog.Warn("round summary cache invalidation failed", "variant", m.cfg.Variant, "error", err)
	}
}

// Summary renders r.
func (m *Manager) Summary(ctx context.Context, r models.Round) (Summary, error) {
	s := Summary{
		ID:                r.ID,
		Status:            r.DisplayStatus(),
		EndTime:           r.EndTime.UTC(),
		TotalParticipants: r.TotalParticipants,
	}
	if r.WinnerParticipantID == nil {
		return s, nil
	}
	var p models.Participant
	if err := m.db.WithContext(ctx).Select("id", "hashed_user_id").First(&p, *r.WinnerParticipantID).Error; err != nil {
		return s, fmt.Errorf("rounds: winner of round %d: %w", r.ID, err)
	}
	s.Winner = &Winner{ParticipantID: p.HashedUserID, Mode: r.WinnerMode, SelectedAt: r.WinnerSelectedAt, Paid: r.WinnerPaid}
	return s, nil
}

// Current returns the summary of the latest round, served from the cache
// when one is configured. Summaries are only written back with a positive
// TTL, so an entry raced by a transition expires on its own.
func (m *Manager) Current(ctx context.Context) (Summary, error) {
	if m.cache != nil {
		raw, err := m.cache.Get(ctx, m.summaryKey()).Bytes()
		switch {
		case err == nil:
			var s Summary
			if json.Unmarshal(raw, &s) == nil {
				return s, nil
			}
		case !errors.Is(err, redis.Nil):
			slog.Warn("round summary cache read failed", "variant", m.cfg.Variant, "error", err)
		}
	}

	r, ok, err := m.latest(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, ErrRoundNotFound
	}
	s, err := m.Summary(ctx, r)
	if err != nil {
		return s, err
	}

	if m.cache != nil && m.cfg.CacheTTL > 0 {
		if raw, err := json.Marshal(s); err == nil {
			if err := m.cache.Set(ctx, m.summaryKey(), raw, m.cfg.CacheTTL).Err(); err != nil {
				slog.Warn("round summary cache write failed", "variant", m.cfg.Variant, "error", err)
			}
		}
	}
	return s, nil
}
