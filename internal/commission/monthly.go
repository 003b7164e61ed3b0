package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"earnhub/internal/batch"
	"earnhub/internal/ledger"
	"earnhub/internal/models"
	"earnhub/internal/referral"
)

// MonthWindow is the UTC calendar month containing t.
func MonthWindow(t time.Time) (key string, start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start.Format("2006-01"), start, end
}

type depositRow struct {
	UserID uint
	Amount decimal.Decimal
}

// TeamVolumes sums each deposit into the volume of the depositor's uplines
// down to TeamVolumeDepth. Rejected chains are returned as errors and left out.
func TeamVolumes(graph *referral.Graph, deposits []depositRow) (map[uint]decimal.Decimal, []error) {
	volumes := make(map[uint]decimal.Decimal)
	var errs []error
	for _, d := range deposits {
		chain, err := graph.Uplines(d.UserID, TeamVolumeDepth)
		if err != nil {
			errs = append(errs, fmt.Errorf("deposit of user %d: %w", d.UserID, err))
			continue
		}
		for _, anc := range chain {
			volumes[anc.UserID] = volumes[anc.UserID].Add(d.Amount)
		}
	}
	return volumes, errs
}

// RunMonthly pays the monthly team volume bonus for the month containing asOf.
func (e *Engine) RunMonthly(ctx context.Context, asOf time.Time) (batch.Report, error) {
	key, start, end := MonthWindow(asOf)
	report := batch.Report{Job: "monthly-bonus", Window: key}

	table, err := e.rules.Active(ctx, asOf)
	if err != nil {
		return report, err
	}
	if len(table.Monthly) == 0 {
		slog.Info("monthly bonus skipped, policy has no tiers", "window", key, "policy", table.Version)
		return report, nil
	}
	graph, err := referral.LoadGraph(ctx, e.db)
	if err != nil {
		return report, err
	}

	var deposits []depositRow
	err = e.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("user_id", "amount").
		Where("type = ? AND created_at >= ? AND created_at < ?", models.EntryDeposit, start, end).
		Scan(&deposits).Error
	if err != nil {
		return report, fmt.Errorf("commission: load deposits %s: %w", key, err)
	}

	volumes, errs := TeamVolumes(graph, deposits)
	for _, err := range errs {
		slog.Error("monthly volume walk rejected", "op", "monthly-bonus", "window", key, "error", err)
		report.Fail(err)
	}

	recipients := make([]uint, 0, len(volumes))
	for id := range volumes {
		recipients = append(recipients, id)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	for _, userID := range recipients {
		volume := volumes[userID]
		rate := table.MonthlyRate(volume)
		if !rate.IsPositive() {
			continue
		}
		member, _ := graph.Member(userID)
		if !member.Qualified || member.Blocked {
			report.Skipped++
			continue
		}
		entry := &models.LedgerEntry{
			UserID:    userID,
			Type:      models.EntryMonthlyBonus,
			Reference: fmt.Sprintf("monthly-bonus:%d:%s", userID, key),
			Amount:    volume.Mul(rate),
			Memo:      fmt.Sprintf("volume %s at %s (%s)", volume.String(), rate.String(), table.Version),
		}
		err := e.ledger.Post(ctx, entry)
		switch {
		case err == nil:
			report.Posted++
		case errors.Is(err, ledger.ErrDuplicate), errors.Is(err, ledger.ErrInvalidEntry):
			report.Skipped++
		default:
			slog.Error("monthly bonus posting failed", "op", "monthly-bonus", "user_id", userID, "window", key, "error", err)
			report.Fail(fmt.Errorf("user %d: %w", userID, err))
		}
	}

	slog.Info("monthly bonus run finished", "window", key, "policy", table.Version,
		"posted", report.Posted, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
