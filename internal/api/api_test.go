package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"earnhub/internal/batch"
	"earnhub/internal/ledger"
	"earnhub/internal/models"
	"earnhub/internal/rounds"
	"earnhub/internal/testdb"
	"earnhub/internal/users"
	"earnhub/internal/utils"
	"earnhub/internal/worker"
)

func newRouter(t *testing.T, callers ...string) (http.Handler, map[string]*rounds.Manager, *users.Service) {
	t.Helper()
	db := testdb.Open(t)
	registry := users.NewService(db, ledger.New(db, true, nil), decimal.NewFromInt(80))
	managers := map[string]*rounds.Manager{}
	var list []*rounds.Manager
	for _, variant := range []string{models.VariantBlindBox, models.VariantGiftBox} {
		m, err := rounds.NewManager(db, rounds.Config{
			Variant:     variant,
			Duration:    time.Hour,
			EntryAmount: decimal.NewFromInt(10),
			Namespace:   rounds.Namespace("api"),
		}, nil, nil, nil)
		require.NoError(t, err)
		managers[variant] = m
		list = append(list, m)
	}

	jobs := worker.NewRunner()
	jobs.Register(worker.JobEnsureRounds, worker.EnsureRounds(list...))
	jobs.Register("flaky", func(context.Context, time.Time) (batch.Report, error) {
		rep := batch.Report{Window: "2026-10-15", Posted: 3}
		rep.Fail(errors.New("user 7: timeout"))
		return rep, nil
	})

	allow, err := utils.ParseAllowList(callers)
	require.NoError(t, err)
	return NewRouter(Dependencies{Rounds: managers, Jobs: jobs, Users: registry, JobCallers: allow}), managers, registry
}

func do(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	return send(h, method, path, remote, "")
}

func send(h http.Handler, method, path, remote, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCurrentRound(t *testing.T) {
	h, managers, _ := newRouter(t)

	rec := do(h, http.MethodGet, "/rounds/giftbox/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/rounds/lottery/current", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r, err := managers[models.VariantGiftBox].Ensure(context.Background(), time.Now())
	require.NoError(t, err)

	rec = do(h, http.MethodGet, "/rounds/giftbox/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, r.ID, body["id"])
	assert.Equal(t, "open", body["status"])
	assert.EqualValues(t, 0, body["totalParticipants"])
	assert.Nil(t, body["winner"])
	assert.Contains(t, body, "endTime")
}

func TestJobsRequireAllowedCaller(t *testing.T) {
	h, _, _ := newRouter(t, "10.0.0.0/8")

	rec := do(h, http.MethodPost, "/jobs/ensure-rounds", "203.0.113.9:4000")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/jobs/ensure-rounds", "10.1.2.3:4000")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, worker.JobEnsureRounds, resp.Job)
	assert.Equal(t, 2, resp.Posted)

	rec = do(h, http.MethodGet, "/rounds/blindbox/current", "203.0.113.9:4000")
	assert.Equal(t, http.StatusOK, rec.Code, "summaries are public")
}

func TestJobReportsFailures(t *testing.T) {
	h, _, _ := newRouter(t, "192.0.2.0/24")

	rec := do(h, http.MethodPost, "/jobs/flaky", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "flaky", resp.Job)
	assert.Equal(t, 3, resp.Posted)
	assert.Equal(t, 1, resp.Failed)
	assert.Contains(t, resp.Error, "timeout")

	rec = do(h, http.MethodPost, "/jobs/reindex", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfirmDeposit(t *testing.T) {
	h, _, registry := newRouter(t, "192.0.2.0/24")
	ctx := context.Background()
	user, err := registry.Register(ctx, "miner", nil, nil)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"event":"deposit.confirmed","object":{"id":"dep-77","userId":%d,"amount":"120.5"}}`, user.ID)
	rec := send(h, http.MethodPost, "/deposits", "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp depositResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "credited", resp.Status)

	got, err := registry.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "120.5", got.Balance.String())
	assert.True(t, got.Qualified)

	rec = send(h, http.MethodPost, "/deposits", "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp.Status)
	got, err = registry.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "120.5", got.Balance.String(), "redelivery must not credit twice")

	rec = send(h, http.MethodPost, "/deposits", "", `{"event":"deposit.pending","object":{"id":"dep-78"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp.Status)

	rec = send(h, http.MethodPost, "/deposits", "", `{"event":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(h, http.MethodPost, "/deposits", "", `{"event":"deposit.confirmed","object":{"id":"dep-79","userId":9999,"amount":"5"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(h, http.MethodPost, "/deposits", "198.51.100.4:9000", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
