// Package metrics exposes update-cycle and upstream counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lqo"

// Phases reported through the phase gauge, in cycle order.
var Phases = []string{"idle", "locking", "fetching", "merging", "recomputing", "persisting"}

// Collector owns a private registry with every service metric.
// It satisfies command.Metrics and lichess.Metrics.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	phase         *prometheus.GaugeVec
	archiveSize   prometheus.Gauge
	players       prometheus.Gauge
	checkpoint    prometheus.Gauge
	gamesMerged   prometheus.Counter
	mirrorErrors  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec

	upstreamRequests *prometheus.HistogramVec
	upstreamLimited  prometheus.Counter
	gamesFetched     prometheus.Counter
}

// New creates a collector. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "update", Name: "cycles_total",
			Help: "Update cycles by outcome (ok, skipped, error).",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "update", Name: "cycle_duration_seconds",
			Help:    "Wall time of update cycles.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
		}, []string{"outcome"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "update", Name: "phase",
			Help: "1 for the phase the coordinator is currently in.",
		}, []string{"phase"}),
		archiveSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "archive", Name: "games",
			Help: "Games held in the archive.",
		}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "leaderboard", Name: "players",
			Help: "Players on the leaderboard.",
		}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "archive", Name: "checkpoint_ms",
			Help: "last_fetch checkpoint in epoch milliseconds.",
		}),
		gamesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "games_merged_total",
			Help: "Games newly added to the archive.",
		}),
		mirrorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mirror", Name: "failures_total",
			Help: "Failed mirror writes by sink.",
		}, []string{"sink"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mirror", Name: "breaker_open",
			Help: "1 while the sink's circuit breaker is not closed.",
		}, []string{"sink"}),
		upstreamRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "request_duration_seconds",
			Help:    "Game export requests by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		upstreamLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "rate_limited_total",
			Help: "HTTP 429 responses from the game server.",
		}),
		gamesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "games_fetched_total",
			Help: "Games decoded from export pages.",
		}),
	}

	c.registry.MustRegister(
		c.cycles, c.cycleDuration, c.phase, c.archiveSize, c.players, c.checkpoint,
		c.gamesMerged, c.mirrorErrors, c.breakerState,
		c.upstreamRequests, c.upstreamLimited, c.gamesFetched,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	c.SetPhase("idle")
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ─────────────────────────────────────────────────────────────────────────────
// Coordinator
// ─────────────────────────────────────────────────────────────────────────────

func (c *Collector) ObserveCycle(outcome string, d time.Duration) {
	c.cycles.WithLabelValues(outcome).Inc()
	c.cycleDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetPhase marks phase as current and clears the others.
func (c *Collector) SetPhase(phase string) {
	for _, p := range Phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.phase.WithLabelValues(p).Set(v)
	}
}

func (c *Collector) SetArchiveSize(n int)      { c.archiveSize.Set(float64(n)) }
func (c *Collector) SetPlayers(n int)          { c.players.Set(float64(n)) }
func (c *Collector) SetCheckpoint(ms int64)    { c.checkpoint.Set(float64(ms)) }
func (c *Collector) AddGamesMerged(n int)      { c.gamesMerged.Add(float64(n)) }
func (c *Collector) IncMirrorFailure(s string) { c.mirrorErrors.WithLabelValues(s).Inc() }

// SetBreakerOpen records whether a sink's breaker is tripped.
func (c *Collector) SetBreakerOpen(sink string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	c.breakerState.WithLabelValues(sink).Set(v)
}

// ─────────────────────────────────────────────────────────────────────────────
// Upstream
// ─────────────────────────────────────────────────────────────────────────────

func (c *Collector) ObserveUpstreamRequest(outcome string, d time.Duration) {
	c.upstreamRequests.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) IncUpstreamRateLimited() { c.upstreamLimited.Inc() }
func (c *Collector) AddGamesFetched(n int)   { c.gamesFetched.Add(float64(n)) }
