package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"earnhub/internal/apperr"
	"earnhub/internal/ledger"
)

const eventDepositConfirmed = "deposit.confirmed"

// depositNotification is posted by the custody service once a mining
// deposit has cleared.
type depositNotification struct {
	Event  string        `json:"event"`
	Object depositObject `json:"object"`
}

type depositObject struct {
	ID     string          `json:"id"`
	UserID uint            `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

type depositResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

func (h *handler) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	var n depositNotification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, fmt.Errorf("%w: deposit notification: %v", apperr.ErrValidation, err))
		return
	}
	if n.Event != eventDepositConfirmed {
		slog.Info("deposit event ignored", "event", n.Event)
		writeJSON(w, http.StatusOK, depositResponse{Status: "ignored"})
		return
	}

	err := h.deps.Users.RecordDeposit(r.Context(), n.Object.UserID, n.Object.Amount, n.Object.ID)
	switch {
	case errors.Is(err, ledger.ErrDuplicate):
		writeJSON(w, http.StatusOK, depositResponse{Status: "duplicate", ID: n.Object.ID})
	case err != nil:
		if apperr.HTTPStatus(err) == http.StatusInternalServerError {
			slog.Error("deposit confirmation failed", "op", "confirm-deposit", "user_id", n.Object.UserID,
				"reference", n.Object.ID, "error", err)
		}
		writeError(w, err)
	default:
		slog.Info("deposit confirmed", "user_id", n.Object.UserID, "reference", n.Object.ID,
			"amount", n.Object.Amount.String())
		writeJSON(w, http.StatusOK, depositResponse{Status: "credited", ID: n.Object.ID})
	}
}
