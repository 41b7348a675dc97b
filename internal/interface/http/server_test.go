package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/command"
	"github.com/lqo-hub/lqo-leaderboard/internal/application/query"
	"github.com/lqo-hub/lqo-leaderboard/internal/application/state"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/scheduler"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/scheduler/jobs"
	"github.com/lqo-hub/lqo-leaderboard/internal/interface/http/handlers"
	"github.com/lqo-hub/lqo-leaderboard/pkg/logger"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *state.Store {
	t.Helper()
	lb := leaderboard.New(leaderboard.Metadata{
		LastFetch:  1748779000000,
		NextUpdate: testNow.Add(4 * time.Minute).Unix(),
	})
	require.NoError(t, lb.Set("bob", leaderboard.PlayerRecord{Rating: 1800, Games: 7, LastGame: "2025-05-30", AverageTimeControl: "3+2"}))
	require.NoError(t, lb.Set("alice", leaderboard.PlayerRecord{Rating: 1900.6, Games: 10, LastGame: "2025-05-31", AverageTimeControl: "5+3"}))
	require.NoError(t, lb.Set("carol", leaderboard.PlayerRecord{Rating: 1500, Games: 2, LastGame: "2025-05-01", AverageTimeControl: "unknown"}))
	require.NoError(t, lb.Set("dave", leaderboard.PlayerRecord{Rating: 1400.2, Games: 1, LastGame: "2025-05-02", AverageTimeControl: "1+0"}))
	lb.SortByRating()

	s := state.New()
	s.Replace(nil, lb)
	return s
}

type stubTrigger struct {
	job     string
	trigger string
	err     error
}

func (s *stubTrigger) RunNow(ctx context.Context, name string) (*scheduler.JobResult, error) {
	s.job = name
	s.trigger = jobs.TriggerFrom(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return &scheduler.JobResult{JobName: name, StartedAt: testNow, Duration: 2 * time.Second, Success: true, Manual: true}, nil
}

type stubStats struct{ stats jobs.Stats }

func (s stubStats) Stats() jobs.Stats { return s.stats }

func newTestServer(t *testing.T, cfg Config, mutate func(*Dependencies)) *Server {
	t.Helper()
	st := testStore(t)
	deps := Dependencies{
		Leaderboard: query.NewGetLeaderboardHandler(st, nil).WithClock(func() time.Time { return testNow }),
		PlayerRank:  query.NewGetPlayerRankHandler(st),
		Logger:      logger.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewServer(cfg, deps)
}

func do(t *testing.T, s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) JSONResponse {
	t.Helper()
	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestIndex_RendersTopN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopN = 3
	s := newTestServer(t, cfg, nil)

	rec := do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))

	body := rec.Body.String()
	assert.Contains(t, body, `class="first-place"`)
	assert.Contains(t, body, `class="second-place"`)
	assert.Contains(t, body, `class="third-place"`)
	assert.Contains(t, body, `href="https://lichess.org/@/alice"`)
	assert.Contains(t, body, "<td>1901</td>")
	assert.Contains(t, body, "<td>5&#43;3</td>")
	assert.NotContains(t, body, "dave")
	assert.Less(t, strings.Index(body, ">alice<"), strings.Index(body, ">bob<"))
	assert.Contains(t, body, "1748779440")
	assert.Contains(t, body, "failedReloadCount")
}

func TestIndex_UnknownPathIs404(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)
	rec := do(t, s, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboardDocument_KeepsOrderAndMetadata(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	rec := do(t, s, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"alice"`), strings.Index(body, `"bob"`))
	assert.Less(t, strings.Index(body, `"dave"`), strings.Index(body, `"metadata"`))

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc, 5)

	var meta leaderboard.Metadata
	require.NoError(t, json.Unmarshal(doc["metadata"], &meta))
	assert.Equal(t, int64(1748779000000), meta.LastFetch)
}

type stubCache struct{ entries []leaderboard.Entry }

func (c stubCache) Replace(context.Context, *leaderboard.Snapshot) error { return nil }

func (c stubCache) GetTop(context.Context, int) ([]leaderboard.Entry, error) {
	return c.entries, nil
}

func TestLeaderboardDocument_FromCacheBeforeLoad(t *testing.T) {
	cache := stubCache{entries: []leaderboard.Entry{
		{Rank: 1, Name: "alice", Record: leaderboard.PlayerRecord{Rating: 1900.5, Games: 3}},
	}}
	s := newTestServer(t, DefaultConfig(), func(d *Dependencies) {
		d.Leaderboard = query.NewGetLeaderboardHandler(state.New(), cache)
	})

	rec := do(t, s, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc leaderboard.Leaderboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	rec2, ok := doc.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 1900.5, rec2.Rating)
}

func TestLeaderboardTop_Paging(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	rec := do(t, s, http.MethodGet, "/api/leaderboard/top?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data query.GetLeaderboardResult `json:"data"`
		Meta ResponseMeta               `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Entries, 2)
	assert.Equal(t, "bob", resp.Data.Entries[0].Name)
	assert.Equal(t, 2, resp.Data.Entries[0].Rank)
	assert.True(t, resp.Meta.HasMore)
	assert.Equal(t, 4, resp.Meta.TotalCount)

	bad := do(t, s, http.MethodGet, "/api/leaderboard/top?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	neg := do(t, s, http.MethodGet, "/api/leaderboard/top?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, neg.Code)
}

func TestPlayer(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	rec := do(t, s, http.MethodGet, "/api/players/BOB", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data query.PlayerRankDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Rank)
	assert.Equal(t, 4, resp.Data.TotalPlayers)

	missing := do(t, s, http.MethodGet, "/api/players/nobody", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "not_found", decodeEnvelope(t, missing).Error.Code)
}

func TestHealth_OptionalFailureDegrades(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("leaderboard", func(context.Context) error { return nil })
	checker.AddOptionalCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	s := newTestServer(t, DefaultConfig(), func(d *Dependencies) { d.HealthChecker = checker })

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data handlers.HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, handlers.StatusDegraded, resp.Data.Status)
	assert.False(t, resp.Data.Checks["postgres"].Healthy)
}

func TestHealth_RequiredFailureIs503(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("leaderboard", handlers.NewLoadedCheck(handlers.StateSourceFunc(func() (time.Time, bool) {
		return time.Time{}, false
	})))
	s := newTestServer(t, DefaultConfig(), func(d *Dependencies) { d.HealthChecker = checker })

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "lqo_update_cycles_total 1\n")
	})
	s := newTestServer(t, DefaultConfig(), func(d *Dependencies) { d.Metrics = metricsHandler })

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lqo_update_cycles_total")

	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	off := newTestServer(t, cfg, func(d *Dependencies) { d.Metrics = metricsHandler })
	assert.Equal(t, http.StatusNotFound, do(t, off, http.MethodGet, "/metrics", nil).Code)
}

func TestUpdate_RequiresToken(t *testing.T) {
	trigger := &stubTrigger{}
	cfg := DefaultConfig()
	cfg.AdminToken = "s3cret"
	s := newTestServer(t, cfg, func(d *Dependencies) { d.Trigger = trigger })

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/api/update", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/api/update", map[string]string{"X-Admin-Token": "wrong"}).Code)
	assert.Empty(t, trigger.job)

	rec := do(t, s, http.MethodPost, "/api/update", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.JobName, trigger.job)
	assert.Equal(t, "manual", trigger.trigger)
}

func TestUpdate_DisabledWithoutToken(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), func(d *Dependencies) { d.Trigger = &stubTrigger{} })
	rec := do(t, s, http.MethodPost, "/api/update", map[string]string{"X-Admin-Token": ""})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdate_BusyAndFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminToken = "s3cret"
	auth := map[string]string{"X-Admin-Token": "s3cret"}

	busy := newTestServer(t, cfg, func(d *Dependencies) {
		d.Trigger = &stubTrigger{err: scheduler.ErrJobBusy}
	})
	assert.Equal(t, http.StatusConflict, do(t, busy, http.MethodPost, "/api/update", auth).Code)

	failing := newTestServer(t, cfg, func(d *Dependencies) {
		d.Trigger = &stubTrigger{err: errors.New("persist: disk full")}
	})
	rec := do(t, failing, http.MethodPost, "/api/update", auth)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "update_failed", decodeEnvelope(t, rec).Error.Code)
}

func TestUpdate_ReportsSkippedCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminToken = "s3cret"
	stats := stubStats{stats: jobs.Stats{Runs: 1, Skipped: 1, Last: &command.UpdateLeaderboardResult{Skipped: true}}}
	s := newTestServer(t, cfg, func(d *Dependencies) {
		d.Trigger = &stubTrigger{}
		d.Stats = stats
	})

	rec := do(t, s, http.MethodPost, "/api/update", map[string]string{"X-Admin-Token": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data updateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Skipped)
	assert.Equal(t, "2s", resp.Data.Duration)
}

func TestMiddleware_RequestIDAndSecurityHeaders(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	rec := do(t, s, http.MethodGet, "/health", map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-1", decodeEnvelope(t, rec).RequestID)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	generated := do(t, s, http.MethodGet, "/health", nil)
	assert.Len(t, generated.Header().Get("X-Request-ID"), 36)
}

func TestMiddleware_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 2
	s := newTestServer(t, cfg, nil)

	ip := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", ip).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", ip).Code)
	rec := do(t, s, http.MethodGet, "/health", ip)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	other := map[string]string{"X-Forwarded-For": "198.51.100.1"}
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", other).Code)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := testNow
	rl := newRateLimiter(1, time.Minute, func() time.Time { return now })

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_server_error", decodeEnvelope(t, rec).Error.Code)
}
