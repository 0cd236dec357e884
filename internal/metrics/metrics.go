// Package metrics holds the Prometheus collectors for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/facegate/internal/storage"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	MatchAttempts   *prometheus.CounterVec
	MatchLatency    prometheus.Histogram
	Enrollments     *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	StorageTier     prometheus.Gauge
	StorageFree     prometheus.Gauge
	CleanupRuns     *prometheus.CounterVec
	RowsPruned      *prometheus.CounterVec
	AuditsDegraded  prometheus.Counter
	EndpointLatency *prometheus.HistogramVec
}

// New creates all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MatchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_match_attempts_total",
			Help: "Attendance attempts, labeled by kind and outcome",
		}, []string{"kind", "outcome"}),
		MatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "facegate_match_latency_seconds",
			Help:    "Time spent matching a live embedding against the population",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		Enrollments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_enrollments_total",
			Help: "Enrollment requests, labeled by outcome",
		}, []string{"outcome"}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_cache_hits_total",
			Help: "Embedding cache hits, labeled by view",
		}, []string{"view"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_cache_misses_total",
			Help: "Embedding cache misses, labeled by view",
		}, []string{"view"}),
		StorageTier: f.NewGauge(prometheus.GaugeOpts{
			Name: "facegate_storage_tier",
			Help: "Last observed storage tier (0 normal, 1 warning, 2 critical, 3 auto cleanup)",
		}),
		StorageFree: f.NewGauge(prometheus.GaugeOpts{
			Name: "facegate_storage_free_bytes",
			Help: "Last observed free bytes on internal storage",
		}),
		CleanupRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_cleanup_runs_total",
			Help: "Retention cleanup passes, labeled by source and result",
		}, []string{"source", "result"}),
		RowsPruned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_rows_pruned_total",
			Help: "Ledger rows removed by retention cleanup, labeled by source",
		}, []string{"source"}),
		AuditsDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "facegate_audit_degraded_total",
			Help: "Audit records that could only be logged, not persisted",
		}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facegate_endpoint_latency_seconds",
			Help:    "Latency of HTTP endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CacheHit implements cache.Observer.
func (m *Metrics) CacheHit(view string) {
	m.CacheHits.WithLabelValues(view).Inc()
}

// CacheMiss implements cache.Observer.
func (m *Metrics) CacheMiss(view string) {
	m.CacheMisses.WithLabelValues(view).Inc()
}

// AuditDegraded implements ledger.Observer.
func (m *Metrics) AuditDegraded() {
	m.AuditsDegraded.Inc()
}

// TierObserved implements storage.Observer.
func (m *Metrics) TierObserved(t storage.Tier, availableBytes int64) {
	m.StorageTier.Set(float64(t))
	m.StorageFree.Set(float64(availableBytes))
}

// CleanupRun implements storage.Observer.
func (m *Metrics) CleanupRun(source string, deleted int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CleanupRuns.WithLabelValues(source, result).Inc()
	if deleted > 0 {
		m.RowsPruned.WithLabelValues(source).Add(float64(deleted))
	}
}

// ObserveAttempt implements attendance.Recorder.
func (m *Metrics) ObserveAttempt(kind, outcome string) {
	m.MatchAttempts.WithLabelValues(kind, outcome).Inc()
}

// ObserveMatch implements attendance.Recorder.
func (m *Metrics) ObserveMatch(d time.Duration) {
	m.MatchLatency.Observe(d.Seconds())
}

// ObserveEnrollment implements attendance.Recorder.
func (m *Metrics) ObserveEnrollment(outcome string) {
	m.Enrollments.WithLabelValues(outcome).Inc()
}
