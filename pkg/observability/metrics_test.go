package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics.HTTPRequestsTotal == nil {
		t.Error("Expected HTTPRequestsTotal to be created")
	}
	if metrics.EntitlementDecisionsTotal == nil {
		t.Error("Expected EntitlementDecisionsTotal to be created")
	}
	if metrics.FlagEvaluationsTotal == nil {
		t.Error("Expected FlagEvaluationsTotal to be created")
	}
	if metrics.CacheHitsTotal == nil {
		t.Error("Expected CacheHitsTotal to be created")
	}
	if metrics.FeatureFlagsTotal == nil {
		t.Error("Expected FeatureFlagsTotal to be created")
	}
}

func TestNewMetricsDuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

func TestDecisionCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.EntitlementDecisionsTotal.WithLabelValues("jobs.create", "true", "granted").Inc()
	metrics.EntitlementDecisionsTotal.WithLabelValues("jobs.create", "false", "limit_exceeded").Inc()
	metrics.UsageRecordedTotal.WithLabelValues("jobs.posted").Add(3)
	metrics.TierChangesTotal.WithLabelValues("pro").Inc()
	metrics.FlagEvaluationsTotal.WithLabelValues("advanced_analytics", "true").Inc()

	if got := testutil.ToFloat64(metrics.EntitlementDecisionsTotal.WithLabelValues("jobs.create", "false", "limit_exceeded")); got != 1 {
		t.Errorf("Expected 1 denied decision, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.UsageRecordedTotal.WithLabelValues("jobs.posted")); got != 3 {
		t.Errorf("Expected 3 usage units, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.TierChangesTotal.WithLabelValues("pro")); got != 1 {
		t.Errorf("Expected 1 tier change, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.FlagEvaluationsTotal.WithLabelValues("advanced_analytics", "true")); got != 1 {
		t.Errorf("Expected 1 flag evaluation, got %v", got)
	}
}

func TestCacheCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
	metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	metrics.CacheEvictionsTotal.WithLabelValues("memory", "lru").Inc()

	if got := testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("memory")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("redis")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheEvictionsTotal.WithLabelValues("memory", "lru")); got != 1 {
		t.Errorf("Expected 1 eviction, got %v", got)
	}
}

func TestCatalogGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.FeatureFlagsTotal.Set(12)
	metrics.ActiveOverridesTotal.Set(3)

	expected := `
		# HELP entitlements_active_overrides_total Number of live per-tenant feature overrides
		# TYPE entitlements_active_overrides_total gauge
		entitlements_active_overrides_total 3
		# HELP entitlements_feature_flags_total Total number of feature flags in the catalog
		# TYPE entitlements_feature_flags_total gauge
		entitlements_feature_flags_total 12
	`
	if err := testutil.CollectAndCompare(metrics.FeatureFlagsTotal, strings.NewReader(expected),
		"entitlements_feature_flags_total"); err != nil {
		t.Errorf("Unexpected catalog gauge output: %v", err)
	}
	if err := testutil.CollectAndCompare(metrics.ActiveOverridesTotal, strings.NewReader(expected),
		"entitlements_active_overrides_total"); err != nil {
		t.Errorf("Unexpected override gauge output: %v", err)
	}
}

func TestResponseWriterCapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusPaymentRequired)
	rw.Write([]byte(`{"allowed":false`))
	rw.Write([]byte(`}`))

	if rw.statusCode != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", rw.statusCode)
	}
	if rw.bytesWritten != 17 {
		t.Errorf("Expected 17 bytes written, got %d", rw.bytesWritten)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"allowed":true}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/tenants/tenant-1/entitlements/jobs.create", strings.NewReader("x"))
	req.ContentLength = 1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	path := "/tenants/tenant-1/entitlements/jobs.create"
	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", path, "200")); got != 1 {
		t.Errorf("Expected 1 request counted, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.HTTPRequestDuration); got == 0 {
		t.Error("Expected a duration observation")
	}
	if got := testutil.CollectAndCount(metrics.HTTPRequestSize); got == 0 {
		t.Error("Expected a request size observation")
	}
}

func TestHTTPMetricsMiddlewareStatusLabels(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	for _, status := range []int{http.StatusOK, http.StatusPaymentRequired, http.StatusTooManyRequests} {
		status := status
		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	for _, label := range []string{"200", "402", "429"} {
		if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/jobs", label)); got != 1 {
			t.Errorf("Expected 1 request with status %s, got %v", label, got)
		}
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.EntitlementDecisionsTotal.WithLabelValues("jobs.create", "true", "granted").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "entitlements_decisions_total") {
		t.Error("Expected decision counter in exposition output")
	}
	if !strings.Contains(body, `requirement="jobs.create"`) {
		t.Error("Expected requirement label in exposition output")
	}
}
