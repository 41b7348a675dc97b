package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Cycle(t *testing.T) {
	c := New(false)

	c.ObserveCycle("ok", 3*time.Second)
	c.ObserveCycle("ok", time.Second)
	c.ObserveCycle("skipped", 0)
	c.AddGamesMerged(5)
	c.AddGamesMerged(2)
	c.SetArchiveSize(120)
	c.SetCheckpoint(1717243200000)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("skipped")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.gamesMerged))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.archiveSize))
	assert.Equal(t, 1717243200000.0, testutil.ToFloat64(c.checkpoint))
}

func TestCollector_PhaseIsExclusive(t *testing.T) {
	c := New(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("idle")))

	c.SetPhase("fetching")
	for _, p := range Phases {
		want := 0.0
		if p == "fetching" {
			want = 1
		}
		assert.Equal(t, want, testutil.ToFloat64(c.phase.WithLabelValues(p)), p)
	}
}

func TestCollector_Upstream(t *testing.T) {
	c := New(false)
	c.IncUpstreamRateLimited()
	c.AddGamesFetched(300)
	c.IncMirrorFailure("redis_cache")
	c.SetBreakerOpen("redis_cache", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamLimited))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.gamesFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mirrorErrors.WithLabelValues("redis_cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("redis_cache")))
}

func TestCollector_Handler(t *testing.T) {
	c := New(true)
	c.ObserveUpstreamRequest("ok", 200*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "lqo_upstream_request_duration_seconds_count")
	assert.Contains(t, string(body), "lqo_update_phase")
	assert.Contains(t, string(body), "go_goroutines")
}
