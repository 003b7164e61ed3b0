// Package rounds runs the draw round state machine shared by the blind box
// and the gift box. Every status change is a conditional update on the round
// row; nothing here holds a lock across store calls.
package rounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"earnhub/internal/models"
	"earnhub/internal/notify"
	"earnhub/internal/users"
)

// Source picks winners. IntN returns a value in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

type Config struct {
	Variant     string
	Duration    time.Duration
	Gap         time.Duration
	EntryAmount decimal.Decimal
	// Namespace salts the hashed participant ids.
	Namespace uuid.UUID
	CacheTTL  time.Duration
}

// Namespace derives the participant id namespace from a configured salt.
func Namespace(salt string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("earnhub/participants/"+salt))
}

type Manager struct {
	db       *gorm.DB
	cfg      Config
	source   Source
	cache    *redis.Client
	notifier notify.Notifier
	now      func() time.Time
}

// NewManager builds the manager of one variant. source, cache and notifier
// may be nil.
func NewManager(db *gorm.DB, cfg Config, source Source, cache *redis.Client, notifier notify.Notifier) (*Manager, error) {
	if cfg.Variant != models.VariantBlindBox && cfg.Variant != models.VariantGiftBox {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, cfg.Variant)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("rounds: %s duration must be positive", cfg.Variant)
	}
	if source == nil {
		source = globalSource{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{db: db, cfg: cfg, source: source, cache: cache, notifier: notifier, now: time.Now}, nil
}

func (m *Manager) Variant() string { return m.cfg.Variant }

var transitions = map[string]string{
	models.RoundPending: models.RoundOpen,
	models.RoundOpen:    models.RoundLocked,
	models.RoundLocked:  models.RoundClosed,
}

// TryTransition moves the round from expected to next in one conditional
// update. It reports false when another caller already moved it.
func (m *Manager) TryTransition(ctx context.Context, roundID uint, expected, next string, extra map[string]any) (bool, error) {
	return m.transition(ctx, roundID, expected, next, extra)
}

// transition is TryTransition with further conditions the round update must
// satisfy to win.
func (m *Manager) transition(ctx context.Context, roundID uint, expected, next string, extra map[string]any, conds ...func(*gorm.DB) *gorm.DB) (bool, error) {
	if transitions[expected] != next {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}
	updates := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		updates[k] = v
	}
	updates["status"] = next
	res := m.db.WithContext(ctx).Model(&models.Round{}).
		Scopes(conds...).
		Where("id = ? AND variant = ? AND status = ?", roundID, m.cfg.Variant, expected).
		Updates(updates)
	if res.Error != nil {
		slog.Error("round transition failed", "op", "transition", "variant", m.cfg.Variant,
			"round_id", roundID, "from", expected, "to", next, "error", res.Error)
		return false, fmt.Errorf("rounds: %s round %d %s -> %s: %w", m.cfg.Variant, roundID, expected, next, res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	slog.Info("round transitioned", "variant", m.cfg.Variant, "round_id", roundID, "from", expected, "to", next)
	m.invalidate(ctx)
	return true, nil
}

func (m *Manager) round(ctx context.Context, roundID uint) (models.Round, error) {
	var r models.Round
	err := m.db.WithContext(ctx).Where("id = ? AND variant = ?", roundID, m.cfg.Variant).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r, ErrRoundNotFound
	}
	if err != nil {
		return r, fmt.Errorf("rounds: load round %d: %w", roundID, err)
	}
	return r, nil
}

// latest returns the highest numbered round of the variant. Since numbers
// only grow, a non-closed round is always the latest one.
func (m *Manager) latest(ctx context.Context) (models.Round, bool, error) {
	var rounds []models.Round
	err := m.db.WithContext(ctx).Where("variant = ?", m.cfg.Variant).Order("number desc").Limit(1).Find(&rounds).Error
	if err != nil {
		return models.Round{}, false, fmt.Errorf("rounds: latest %s round: %w", m.cfg.Variant, err)
	}
	if len(rounds) == 0 {
		return models.Round{}, false, nil
	}
	return rounds[0], true, nil
}

// ensureSteps bounds one Ensure call: close, create and open at most.
const ensureSteps = 6

// Ensure drives the variant to a live round at now: it creates the first
// round, opens a due pending round, and locks, draws and closes an expired
// one before scheduling the next. Concurrent callers race on conditional
// updates and the unique indexes, so each boundary is crossed once.
func (m *Manager) Ensure(ctx context.Context, now time.Time) (models.Round, error) {
	now = now.UTC()
	for i := 0; i < ensureSteps; i++ {
		if err := ctx.Err(); err != nil {
			return models.Round{}, err
		}
		r, ok, err := m.latest(ctx)
		if err != nil {
			return models.Round{}, err
		}
		if !ok || r.Status == models.RoundClosed {
			if err := m.scheduleNext(ctx, r, ok, now); err != nil {
				return models.Round{}, err
			}
			continue
		}

		switch r.Status {
		case models.RoundPending:
			if now.Before(r.StartTime) {
				return r, nil
			}
			if _, err := m.TryTransition(ctx, r.ID, models.RoundPending, models.RoundOpen, nil); err != nil {
				return models.Round{}, err
			}
		case models.RoundOpen:
			if now.Before(r.EndTime) {
				return r, nil
			}
			if _, err := m.TryTransition(ctx, r.ID, models.RoundOpen, models.RoundLocked, nil); err != nil {
				return models.Round{}, err
			}
		case models.RoundLocked:
			if _, _, err := m.drawRandom(ctx, r); err != nil {
				return models.Round{}, err
			}
		default:
			return models.Round{}, fmt.Errorf("rounds: round %d has unknown status %q", r.ID, r.Status)
		}
	}
	r, _, err := m.latest(ctx)
	return r, err
}

// scheduleNext inserts the round after prev as pending. A concurrent insert
// that got there first makes this a no-op.
func (m *Manager) scheduleNext(ctx context.Context, prev models.Round, hasPrev bool, now time.Time) error {
	next := models.Round{Variant: m.cfg.Variant, Number: 1, Status: models.RoundPending, StartTime: now}
	if hasPrev {
		next.Number = prev.Number + 1
		next.StartTime = prev.EndTime.Add(m.cfg.Gap)
		if next.StartTime.Before(now) {
			next.StartTime = now
		}
	}
	next.EndTime = next.StartTime.Add(m.cfg.Duration)

	res := m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&next)
	if res.Error != nil {
		slog.Error("round scheduling failed", "op", "ensure", "variant", m.cfg.Variant, "number", next.Number, "error", res.Error)
		return fmt.Errorf("rounds: schedule %s round %d: %w", m.cfg.Variant, next.Number, res.Error)
	}
	if res.RowsAffected == 1 {
		slog.Info("round scheduled", "variant", m.cfg.Variant, "round_id", next.ID, "number", next.Number,
			"start", next.StartTime, "end", next.EndTime)
		m.invalidate(ctx)
	}
	return nil
}

// Open starts a pending round ahead of its schedule.
func (m *Manager) Open(ctx context.Context, actorID, roundID uint) (models.Round, error) {
	return m.adminStep(ctx, actorID, roundID, models.RoundPending, models.RoundOpen, ErrRoundNotOpen)
}

// Lock stops joins on an open round before its end time.
func (m *Manager) Lock(ctx context.Context, actorID, roundID uint) (models.Round, error) {
	return m.adminStep(ctx, actorID, roundID, models.RoundOpen, models.RoundLocked, ErrRoundNotOpen)
}

func (m *Manager) adminStep(ctx context.Context, actorID, roundID uint, from, to string, conflict error) (models.Round, error) {
	if err := users.RequireAdmin(m.db.WithContext(ctx), actorID); err != nil {
		return models.Round{}, err
	}
	won, err := m.TryTransition(ctx, roundID, from, to, nil)
	if err != nil {
		return models.Round{}, err
	}
	r, err := m.round(ctx, roundID)
	if err != nil {
		return r, err
	}
	if !won {
		return r, conflict
	}
	return r, nil
}
