// Package mining posts the daily mining profit (DGP) of every funded user.
package mining

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
	"earnhub/internal/models"
)

const batchSize = 500

// Window is the UTC calendar day containing t.
func Window(t time.Time) (key string, start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 0, 1)
	return start.Format(time.DateOnly), start, end
}

type Poster struct {
	db     *gorm.DB
	ledger *ledger.Accessor
	rate   decimal.Decimal
}

func NewPoster(db *gorm.DB, acc *ledger.Accessor, rate decimal.Decimal) *Poster {
	return &Poster{db: db, ledger: acc, rate: rate}
}

// Run posts one DGP per funded, unblocked user for the day of asOf. Users
// already posted for the window are skipped; a failing user never stops the
// rest of the batch.
func (p *Poster) Run(ctx context.Context, asOf time.Time) (batch.Report, error) {
	key, start, end := Window(asOf)
	report := batch.Report{Job: "daily-profit", Window: key}

	var users []models.User
	res := p.db.WithContext(ctx).
		Select("id", "balance", "qualified").
		Where("blocked = ? AND balance > ?", false, decimal.Zero).
		FindInBatches(&users, batchSize, func(tx *gorm.DB, _ int) error {
			for _, u := range users {
				if err := ctx.Err(); err != nil {
					return err
				}
				err := p.postUser(ctx, u, key, start, end)
				switch {
				case err == nil:
					report.Posted++
				case errors.Is(err, ledger.ErrDuplicate), errors.Is(err, errNothingToPost):
					report.Skipped++
				default:
					slog.Error("daily profit posting failed",
						"op", "daily-profit", "user_id", u.ID, "window", key, "error", err)
					report.Fail(fmt.Errorf("user %d: %w", u.ID, err))
				}
			}
			return nil
		})
	if res.Error != nil {
		return report, fmt.Errorf("mining: scan users for %s: %w", key, res.Error)
	}

	slog.Info("daily profit run finished", "window", key,
		"posted", report.Posted, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

var errNothingToPost = errors.New("mining: profit rounds to zero")

func (p *Poster) postUser(ctx context.Context, u models.User, key string, start, end time.Time) error {
	profit := u.Balance.Mul(p.rate).Round(ledger.AmountPlaces)
	if !profit.IsPositive() {
		return errNothingToPost
	}

	return p.ledger.Unit(ctx, func(tx *gorm.DB) error {
		// Ledger first: in sequential mode a retry finds the entry and only
		// backfills the missing DGP.
		entry := &models.LedgerEntry{
			UserID:    u.ID,
			Type:      models.EntryDailyProfit,
			Reference: fmt.Sprintf("daily-profit:%d:%s", u.ID, key),
			Amount:    profit,
			Memo:      fmt.Sprintf("%s x %s", u.Balance.String(), p.rate.String()),
		}
		appendErr := p.ledger.Append(tx, entry)
		if appendErr != nil && !errors.Is(appendErr, ledger.ErrDuplicate) {
			return appendErr
		}

		record := models.DailyProfitRecord{
			UserID:          u.ID,
			WindowKey:       key,
			WindowStart:     start,
			WindowEnd:       end,
			Base:            u.Balance,
			Rate:            p.rate,
			Amount:          profit,
			SourceQualified: u.Qualified,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("mining: dgp of user %d: %w", u.ID, res.Error)
		}
		if appendErr != nil && res.RowsAffected == 0 {
			return appendErr
		}
		return nil
	})
}
