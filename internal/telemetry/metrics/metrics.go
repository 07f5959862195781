// Package metrics owns the engine's prometheus instrumentation: cache
// traffic per layer, provider outcomes, fallback pressure, compute latency
// and series build modes.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles the engine's collectors around a private prometheus
// registry, so embedding applications and tests can run several instances
// side by side.
type Registry struct {
	reg *prometheus.Registry

	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	priceFallbacks   *prometheus.CounterVec
	invalidations    prometheus.Counter
	computeDuration  *prometheus.HistogramVec
	seriesBuilds     *prometheus.CounterVec
}

// NewRegistry builds and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_cache_hits_total",
		Help: "Cache hits by cache layer",
	}, []string{"layer"})

	r.cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_cache_misses_total",
		Help: "Cache misses by cache layer, unavailable backends included",
	}, []string{"layer"})

	r.providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_provider_requests_total",
		Help: "Price provider lookups by outcome",
	}, []string{"provider", "outcome"})

	r.priceFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_price_fallbacks_total",
		Help: "Lots valued at purchase price after a provider failure",
	}, []string{"reason"})

	r.invalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "valuation_user_invalidations_total",
		Help: "User cache invalidation sweeps",
	})

	r.computeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valuation_compute_duration_seconds",
		Help:    "Latency of valuation, series and leaderboard computations",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 1, 2.5, 10},
	}, []string{"op"})

	r.seriesBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_series_builds_total",
		Help: "Performance series builds by mode",
	}, []string{"mode"})

	r.reg.MustRegister(
		r.cacheHits,
		r.cacheMisses,
		r.providerRequests,
		r.priceFallbacks,
		r.invalidations,
		r.computeDuration,
		r.seriesBuilds,
	)
	return r
}

// RecordCacheHit counts a hit on one cache layer.
func (r *Registry) RecordCacheHit(layer string) {
	r.cacheHits.WithLabelValues(layer).Inc()
}

// RecordCacheMiss counts a miss on one cache layer.
func (r *Registry) RecordCacheMiss(layer string) {
	r.cacheMisses.WithLabelValues(layer).Inc()
}

// RecordProviderRequest counts one provider lookup outcome. Satisfies the
// market adapter's telemetry hook.
func (r *Registry) RecordProviderRequest(provider, outcome string) {
	r.providerRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordFallback counts a lot valued at purchase price after a failure.
func (r *Registry) RecordFallback(reason string) {
	r.priceFallbacks.WithLabelValues(reason).Inc()
}

// RecordInvalidation counts a user cache sweep.
func (r *Registry) RecordInvalidation() {
	r.invalidations.Inc()
}

// RecordSeriesBuild counts one series build by mode.
func (r *Registry) RecordSeriesBuild(mode string) {
	r.seriesBuilds.WithLabelValues(mode).Inc()
}

// StepTimer measures one computation.
type StepTimer struct {
	start time.Time
	op    string
	reg   *Registry
}

// StartTimer begins timing an operation ("valuation", "series",
// "leaderboard").
func (r *Registry) StartTimer(op string) *StepTimer {
	return &StepTimer{start: time.Now(), op: op, reg: r}
}

// Stop records the elapsed time.
func (t *StepTimer) Stop() {
	t.reg.computeDuration.WithLabelValues(t.op).Observe(time.Since(t.start).Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Snapshot is a point-in-time rollup for the diagnostics surface.
type Snapshot struct {
	CacheHits        uint64  `json:"cache_hits"`
	CacheMisses      uint64  `json:"cache_misses"`
	HitRatio         float64 `json:"hit_ratio"`
	ProviderRequests uint64  `json:"provider_requests"`
	PriceFallbacks   uint64  `json:"price_fallbacks"`
}

// Snapshot sums the counters across label sets.
func (r *Registry) Snapshot() Snapshot {
	var snap Snapshot

	families, err := r.reg.Gather()
	if err != nil {
		return snap
	}
	for _, fam := range families {
		total := sumCounters(fam)
		switch {
		case strings.HasSuffix(fam.GetName(), "cache_hits_total"):
			snap.CacheHits = total
		case strings.HasSuffix(fam.GetName(), "cache_misses_total"):
			snap.CacheMisses = total
		case strings.HasSuffix(fam.GetName(), "provider_requests_total"):
			snap.ProviderRequests = total
		case strings.HasSuffix(fam.GetName(), "price_fallbacks_total"):
			snap.PriceFallbacks = total
		}
	}

	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		snap.HitRatio = float64(snap.CacheHits) / float64(lookups)
	}
	return snap
}

func sumCounters(fam *dto.MetricFamily) uint64 {
	var total uint64
	for _, m := range fam.GetMetric() {
		if c := m.GetCounter(); c != nil {
			total += uint64(c.GetValue())
		}
	}
	return total
}
