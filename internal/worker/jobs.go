// Package worker runs the periodic settlement jobs, either from the in-process
// cron scheduler or from an external trigger.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"earnhub/internal/apperr"
	"earnhub/internal/batch"
	"earnhub/internal/commission"
	"earnhub/internal/ledger"
	"earnhub/internal/mining"
	"earnhub/internal/models"
	"earnhub/internal/rounds"
)

const (
	JobEnsureRounds    = "ensure-rounds"
	JobDailyProfit     = "daily-profit"
	JobDailyCommission = "daily-commission"
	JobMonthlyBonus    = "monthly-bonus"
	JobReconcile       = "reconcile-ledger"
)

var ErrUnknownJob = fmt.Errorf("%w: worker: unknown job", apperr.ErrNotFound)

// Job runs one batch as of now.
type Job func(ctx context.Context, now time.Time) (batch.Report, error)

type Runner struct {
	jobs map[string]Job
	now  func() time.Time
}

func NewRunner() *Runner {
	return &Runner{jobs: make(map[string]Job), now: time.Now}
}

// NewSettlementRunner registers the standard jobs.
func NewSettlementRunner(db *gorm.DB, acc *ledger.Accessor, poster *mining.Poster, engine *commission.Engine, managers ...*rounds.Manager) *Runner {
	r := NewRunner()
	r.Register(JobReconcile, ReconcileBalances(db, acc))
	r.Register(JobEnsureRounds, EnsureRounds(managers...))
	r.Register(JobDailyProfit, poster.Run)
	r.Register(JobDailyCommission, engine.RunDaily)
	r.Register(JobMonthlyBonus, func(ctx context.Context, now time.Time) (batch.Report, error) {
		// Settles the calendar month before the one containing now.
		return engine.RunMonthly(ctx, now.AddDate(0, 0, -now.Day()))
	})
	return r
}

func (r *Runner) Register(name string, job Job) {
	r.jobs[name] = job
}

func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the named job once and logs its report.
func (r *Runner) Run(ctx context.Context, name string) (batch.Report, error) {
	job, ok := r.jobs[name]
	if !ok {
		return batch.Report{Job: name}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	began := r.now().UTC()
	report, err := job(ctx, began)
	if report.Job == "" {
		report.Job = name
	}
	attrs := []any{"job", name, "window", report.Window, "posted", report.Posted, "skipped", report.Skipped,
		"failed", report.Failed, "took", time.Since(began).String()}
	switch {
	case err != nil:
		slog.Error("job aborted", append(attrs, "error", err)...)
	case report.Err != nil:
		slog.Warn("job finished with failures", append(attrs, "error", report.Err)...)
	default:
		slog.Info("job finished", attrs...)
	}
	return report, err
}

// EnsureRounds drives every variant to a live round.
func EnsureRounds(managers ...*rounds.Manager) Job {
	return func(ctx context.Context, now time.Time) (batch.Report, error) {
		report := batch.Report{Job: JobEnsureRounds, Window: now.UTC().Format(time.RFC3339)}
		for _, m := range managers {
			r, err := m.Ensure(ctx, now)
			if err != nil {
				report.Fail(fmt.Errorf("%s: %w", m.Variant(), err))
				continue
			}
			slog.Debug("round ensured", "variant", m.Variant(), "round_id", r.ID, "status", r.Status)
			report.Posted++
		}
		return report, nil
	}
}

// ReconcileBalances refolds every cached balance from the ledger. Corrected
// users count as posted.
func ReconcileBalances(db *gorm.DB, acc *ledger.Accessor) Job {
	return func(ctx context.Context, now time.Time) (batch.Report, error) {
		report := batch.Report{Job: JobReconcile, Window: now.UTC().Format(time.DateOnly)}
		var batchUsers []models.User
		res := db.WithContext(ctx).Select("id").FindInBatches(&batchUsers, 500, func(_ *gorm.DB, _ int) error {
			for _, u := range batchUsers {
				drift, err := acc.Reconcile(ctx, u.ID)
				switch {
				case err != nil:
					report.Fail(fmt.Errorf("user %d: %w", u.ID, err))
				case drift.IsZero():
					report.Skipped++
				default:
					report.Posted++
				}
			}
			return ctx.Err()
		})
		if res.Error != nil {
			return report, fmt.Errorf("worker: reconcile balances: %w", res.Error)
		}
		return report, nil
	}
}
