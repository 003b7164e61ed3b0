package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"earnhub/internal/apperr"
	"earnhub/internal/batch"
	"earnhub/internal/ledger"
	"earnhub/internal/models"
)

var ErrInvalidAdjustment = fmt.Errorf("%w: commission: adjustment needs start < end and a reason", apperr.ErrValidation)

type AdjustmentRequest struct {
	Start  time.Time
	End    time.Time
	Reason string
}

func adjustmentReference(claimID uint, version string) string {
	return fmt.Sprintf("adjust:%d:%s", claimID, version)
}

func claimFromReference(ref string) (uint, bool) {
	var id uint
	if _, err := fmt.Sscanf(ref, "adjust:%d:", &id); err != nil {
		return 0, false
	}
	return id, true
}

// PlanAdjustments compares each historical claim with what the current table
// pays for its level and returns the top-up entries still owed. adjusted holds
// the top-ups already posted per claim. History is never rewritten.
func PlanAdjustments(claims []models.TeamDailyClaim, table RuleTable, adjusted map[uint]decimal.Decimal, reason string) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, c := range claims {
		expected := c.Base.Mul(Evaluate(c.Level, table, true)).Round(ledger.AmountPlaces)
		owed := expected.Sub(c.Amount).Sub(adjusted[c.ID])
		if !owed.IsPositive() {
			continue
		}
		out = append(out, models.LedgerEntry{
			UserID:    c.UserID,
			Type:      models.EntryOverrideAdjustment,
			Reference: adjustmentReference(c.ID, table.Version),
			Amount:    owed,
			Memo:      fmt.Sprintf("%s (claim %d, L%d %s -> %s)", reason, c.ID, c.Level, c.Rate.String(), Evaluate(c.Level, table, true).String()),
		})
	}
	return out
}

// ApplyRetroactiveAdjustments tops up overrides paid in [Start, End) under a
// stale percentage. It is an explicit reconciliation tool and re-running it
// for the same policy posts nothing new.
func (e *Engine) ApplyRetroactiveAdjustments(ctx context.Context, req AdjustmentRequest) (batch.Report, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" || !req.Start.Before(req.End) {
		return batch.Report{Job: "override-adjustment"}, ErrInvalidAdjustment
	}
	startKey := req.Start.UTC().Format(time.DateOnly)
	endKey := req.End.UTC().Format(time.DateOnly)
	report := batch.Report{Job: "override-adjustment", Window: startKey + ".." + endKey}

	table, err := e.rules.Active(ctx, e.ledger.Now())
	if err != nil {
		return report, err
	}

	db := e.db.WithContext(ctx)
	var claims []models.TeamDailyClaim
	if err := db.Where("window_key >= ? AND window_key < ?", startKey, endKey).Order("id").Find(&claims).Error; err != nil {
		return report, fmt.Errorf("commission: load claims %s: %w", report.Window, err)
	}
	if len(claims) == 0 {
		return report, nil
	}

	userIDs := make([]uint, 0, len(claims))
	seen := map[uint]struct{}{}
	for _, c := range claims {
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			userIDs = append(userIDs, c.UserID)
		}
	}
	var prior []models.LedgerEntry
	err = db.Select("reference", "amount").
		Where("type = ? AND user_id IN ?", models.EntryOverrideAdjustment, userIDs).
		Find(&prior).Error
	if err != nil {
		return report, fmt.Errorf("commission: load prior adjustments: %w", err)
	}
	adjusted := make(map[uint]decimal.Decimal)
	for _, p := range prior {
		if id, ok := claimFromReference(p.Reference); ok {
			adjusted[id] = adjusted[id].Add(p.Amount)
		}
	}

	for _, entry := range PlanAdjustments(claims, table, adjusted, req.Reason) {
		err := e.ledger.Post(ctx, &entry)
		switch {
		case err == nil:
			report.Posted++
		case errors.Is(err, ledger.ErrDuplicate):
			report.Skipped++
		default:
			slog.Error("override adjustment failed", "op", "override-adjustment", "user_id", entry.UserID, "reference", entry.Reference, "error", err)
			report.Fail(fmt.Errorf("%s: %w", entry.Reference, err))
		}
	}

	slog.Info("override adjustments applied", "window", report.Window, "policy", table.Version, "reason", req.Reason,
		"posted", report.Posted, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
