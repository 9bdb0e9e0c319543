package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzDuration       prometheus.Histogram

	// Permission cache metrics
	PermissionCacheHits   prometheus.Counter
	PermissionCacheMisses prometheus.Counter
	CacheInvalidations    *prometheus.CounterVec

	// Audit metrics
	AuditEntriesTotal  *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	AuditDroppedTotal  prometheus.Counter
	AuditQueueDepth    prometheus.Gauge

	// Retention metrics
	RetentionDeletedTotal prometheus.Counter
}

// NewMetrics creates all Prometheus metrics and registers them against the
// given registry. A nil registry yields unregistered (but usable) metrics,
// which keeps instrumentation optional in tests.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webvue_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"result", "reason"},
		),
		AuthzDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webvue_authz_duration_seconds",
				Help:    "Authorization check duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
			},
		),

		PermissionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webvue_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		PermissionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webvue_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webvue_permission_cache_invalidations_total",
				Help: "Total number of permission cache invalidations",
			},
			[]string{"kind"},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webvue_audit_entries_total",
				Help: "Total number of audit entries recorded",
			},
			[]string{"severity"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webvue_audit_write_failures_total",
				Help: "Total number of failed audit entry writes",
			},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webvue_audit_dropped_total",
				Help: "Total number of audit entries dropped after retries",
			},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "webvue_audit_queue_depth",
				Help: "Current number of audit entries waiting to be written",
			},
		),

		RetentionDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webvue_retention_deleted_total",
				Help: "Total number of audit entries removed by retention cleanup",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.AuthzDecisionsTotal,
			m.AuthzDuration,
			m.PermissionCacheHits,
			m.PermissionCacheMisses,
			m.CacheInvalidations,
			m.AuditEntriesTotal,
			m.AuditWriteFailures,
			m.AuditDroppedTotal,
			m.AuditQueueDepth,
			m.RetentionDeletedTotal,
		)
	}

	return m
}

// MetricsHandler returns the /metrics handler for the given registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
