// Package api exposes round summaries, the job trigger and the deposit
// confirmation webhook over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"earnhub/internal/rounds"
	"earnhub/internal/users"
	"earnhub/internal/utils"
	"earnhub/internal/worker"
)

type Dependencies struct {
	Rounds map[string]*rounds.Manager
	Jobs   *worker.Runner
	Users  *users.Service
	// JobCallers may trigger jobs and confirm deposits; everyone else gets 403.
	JobCallers utils.AllowList
}

func NewRouter(deps Dependencies) *chi.Mux {
	h := &handler{deps: deps}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/rounds/{variant}/current", h.currentRound)

	r.Group(func(r chi.Router) {
		r.Use(h.allowListed)
		r.Post("/jobs/{job}", h.runJob)
		r.Post("/deposits", h.confirmDeposit)
	})
	return r
}

func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       time.Minute,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"remote", r.RemoteAddr, "took", time.Since(began).String())
	})
}
