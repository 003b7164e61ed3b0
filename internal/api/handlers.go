package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"earnhub/internal/apperr"
	"earnhub/internal/rounds"
)

type handler struct {
	deps Dependencies
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type jobResponse struct {
	Job     string `json:"job"`
	Window  string `json:"window"`
	Posted  int    `json:"posted"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Status: "error", Message: message})
}

func (h *handler) currentRound(w http.ResponseWriter, r *http.Request) {
	variant := chi.URLParam(r, "variant")
	m, ok := h.deps.Rounds[variant]
	if !ok {
		writeError(w, rounds.ErrUnknownVariant)
		return
	}
	summary, err := m.Current(r.Context())
	if err != nil {
		if apperr.HTTPStatus(err) == http.StatusInternalServerError {
			slog.Error("round summary failed", "op", "current-round", "variant", variant, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) allowListed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.deps.JobCallers.Allows(r.RemoteAddr) {
			slog.Warn("job trigger refused", "remote", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	report, err := h.deps.Jobs.Run(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := jobResponse{
		Job:     report.Job,
		Window:  report.Window,
		Posted:  report.Posted,
		Skipped: report.Skipped,
		Failed:  report.Failed,
	}
	if report.Err != nil {
		resp.Error = report.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
