package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"earnhub/internal/batch"
	"earnhub/internal/ledger"
	"earnhub/internal/mining"
	"earnhub/internal/models"
	"earnhub/internal/referral"
)

// TeamVolumeDepth is how many downline levels count toward monthly volume.
const TeamVolumeDepth = 3

type Engine struct {
	db     *gorm.DB
	ledger *ledger.Accessor
	rules  *RuleStore
}

func NewEngine(db *gorm.DB, acc *ledger.Accessor, rules *RuleStore) *Engine {
	return &Engine{db: db, ledger: acc, rules: rules}
}

// RunDaily redistributes the unclaimed DGPs of the day containing asOf to the
// uplines of each depositor. A retried run posts nothing twice.
func (e *Engine) RunDaily(ctx context.Context, asOf time.Time) (batch.Report, error) {
	key, _, _ := mining.Window(asOf)
	report := batch.Report{Job: "daily-commission", Window: key}

	table, err := e.rules.Active(ctx, asOf)
	if err != nil {
		return report, err
	}
	graph, err := referral.LoadGraph(ctx, e.db)
	if err != nil {
		return report, err
	}

	var records []models.DailyProfitRecord
	err = e.db.WithContext(ctx).
		Where("window_key = ? AND claimed_at IS NULL", key).
		Order("id").
		Find(&records).Error
	if err != nil {
		return report, fmt.Errorf("commission: load dgp %s: %w", key, err)
	}

	depth := table.MaxDepth()
	slog.Debug("daily commission window loaded", "window", key, "records", len(records),
		"members", graph.Len(), "policy", table.Version, "depth", depth)
	for _, dgp := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !dgp.SourceQualified {
			// Eligibility is fixed when the profit posts.
			e.markClaimed(ctx, dgp.ID)
			report.Skipped++
			continue
		}

		chain, err := graph.Uplines(dgp.UserID, depth)
		if err != nil {
			slog.Error("override walk rejected", "op", "daily-commission", "dgp_id", dgp.ID, "user_id", dgp.UserID, "error", err)
			report.Fail(fmt.Errorf("dgp %d: %w", dgp.ID, err))
			continue
		}

		failed := false
		for _, anc := range chain {
			rate := Evaluate(anc.Level, table, dgp.SourceQualified)
			if !rate.IsPositive() {
				continue
			}
			if anc.Blocked {
				report.Skipped++
				continue
			}
			err := e.postOverride(ctx, dgp, anc, rate, table.Version)
			switch {
			case err == nil:
				report.Posted++
			case errors.Is(err, ledger.ErrDuplicate), errors.Is(err, errZeroPayout):
				report.Skipped++
			default:
				failed = true
				slog.Error("override posting failed", "op", "daily-commission",
					"dgp_id", dgp.ID, "user_id", dgp.UserID, "upline_id", anc.UserID, "level", anc.Level, "error", err)
				report.Fail(fmt.Errorf("dgp %d upline %d: %w", dgp.ID, anc.UserID, err))
			}
		}
		if !failed {
			e.markClaimed(ctx, dgp.ID)
		}
	}

	slog.Info("daily commission run finished", "window", key, "policy", table.Version,
		"posted", report.Posted, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

var errZeroPayout = errors.New("commission: payout rounds to zero")

func overrideReference(uplineID, sourceID uint, window string) string {
	return fmt.Sprintf("team-override:%d:%d:%s", uplineID, sourceID, window)
}

func (e *Engine) postOverride(ctx context.Context, dgp models.DailyProfitRecord, anc referral.Ancestor, rate decimal.Decimal, version string) error {
	amount := dgp.Amount.Mul(rate).Round(ledger.AmountPlaces)
	if !amount.IsPositive() {
		return errZeroPayout
	}
	return e.ledger.Unit(ctx, func(tx *gorm.DB) error {
		entry := &models.LedgerEntry{
			UserID:    anc.UserID,
			Type:      models.EntryTeamOverride,
			Reference: overrideReference(anc.UserID, dgp.UserID, dgp.WindowKey),
			Amount:    amount,
			Memo:      fmt.Sprintf("L%d %s of dgp %d", anc.Level, rate.String(), dgp.ID),
		}
		appendErr := e.ledger.Append(tx, entry)
		if appendErr != nil && !errors.Is(appendErr, ledger.ErrDuplicate) {
			return appendErr
		}
		claim := models.TeamDailyClaim{
			UserID:        anc.UserID,
			SourceUserID:  dgp.UserID,
			WindowKey:     dgp.WindowKey,
			DailyProfitID: dgp.ID,
			Level:         anc.Level,
			Rate:          rate,
			Base:          dgp.Amount,
			Amount:        amount,
			PolicyVersion: version,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
		if res.Error != nil {
			return fmt.Errorf("commission: claim for upline %d: %w", anc.UserID, res.Error)
		}
		if appendErr != nil && res.RowsAffected == 0 {
			return appendErr
		}
		return nil
	})
}

func (e *Engine) markClaimed(ctx context.Context, dgpID uint) {
	err := e.db.WithContext(ctx).Model(&models.DailyProfitRecord{}).
		Where("id = ? AND claimed_at IS NULL", dgpID).
		Update("claimed_at", e.ledger.Now()).Error
	if err != nil {
		// Unclaimed records are revisited next run; postings stay idempotent.
		slog.Warn("dgp claim marker not written", "dgp_id", dgpID, "error", err)
	}
}
