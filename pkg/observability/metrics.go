package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus instruments. All metric names carry
// the entitlements_ prefix.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementDecisionsTotal *prometheus.CounterVec
	UsageRecordedTotal        *prometheus.CounterVec
	TierChangesTotal          *prometheus.CounterVec
	FlagEvaluationsTotal      *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge

	// Catalog metrics
	FeatureFlagsTotal    prometheus.Gauge
	ActiveOverridesTotal prometheus.Gauge
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlements_" + name,
		Help: help,
	}, labels)
}

func newHistogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "entitlements_" + name,
		Help:    help,
		Buckets: buckets,
	}, labels)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entitlements_" + name,
		Help: help,
	})
}

// NewMetrics creates the instruments and registers them on the registry.
// Panics on duplicate registration, which only happens when a process wires
// two Metrics to one registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 8)

	m := &Metrics{
		HTTPRequestsTotal: newCounterVec("http_requests_total",
			"Total number of HTTP requests",
			"method", "path", "status"),
		HTTPRequestDuration: newHistogramVec("http_request_duration_seconds",
			"HTTP request duration in seconds",
			prometheus.DefBuckets, "method", "path"),
		HTTPRequestSize: newHistogramVec("http_request_size_bytes",
			"HTTP request size in bytes",
			sizeBuckets, "method", "path"),
		HTTPResponseSize: newHistogramVec("http_response_size_bytes",
			"HTTP response size in bytes",
			sizeBuckets, "method", "path"),

		EntitlementDecisionsTotal: newCounterVec("decisions_total",
			"Total number of entitlement decisions",
			"requirement", "allowed", "reason"),
		UsageRecordedTotal: newCounterVec("usage_recorded_total",
			"Total number of usage units recorded",
			"metric"),
		TierChangesTotal: newCounterVec("tier_changes_total",
			"Total number of subscription tier changes",
			"tier"),
		FlagEvaluationsTotal: newCounterVec("flag_evaluations_total",
			"Total number of feature flag evaluations",
			"feature", "enabled"),

		CacheHitsTotal: newCounterVec("cache_hits_total",
			"Total number of cache hits",
			"cache_type"),
		CacheMissesTotal: newCounterVec("cache_misses_total",
			"Total number of cache misses",
			"cache_type"),
		CacheEvictionsTotal: newCounterVec("cache_evictions_total",
			"Total number of cache evictions",
			"cache_type", "reason"),

		DBConnectionsActive: newGauge("db_connections_active",
			"Number of active database connections"),
		DBConnectionsIdle: newGauge("db_connections_idle",
			"Number of idle database connections"),
		DBConnectionsWaitCount: newGauge("db_connections_wait_count",
			"Total number of connections waited for"),
		DBConnectionsWaitDuration: newGauge("db_connections_wait_duration_seconds",
			"Total time spent waiting for connections"),

		RedisConnectionsActive: newGauge("redis_connections_active",
			"Number of active Redis connections"),

		FeatureFlagsTotal: newGauge("feature_flags_total",
			"Total number of feature flags in the catalog"),
		ActiveOverridesTotal: newGauge("active_overrides_total",
			"Number of live per-tenant feature overrides"),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.EntitlementDecisionsTotal,
		m.UsageRecordedTotal,
		m.TierChangesTotal,
		m.FlagEvaluationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.FeatureFlagsTotal,
		m.ActiveOverridesTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware records request count, duration, and sizes for every
// request. Uses the raw URL path as the label; routes are tenant-scoped, so
// cardinality is bounded by the tenant count.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint mounts the Prometheus exposition handler
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
