package entitlements

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/entitlements/pkg/features"
	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

func newTestRouter(t *testing.T) (*mux.Router, *resolverFixture) {
	t.Helper()
	f := newResolverFixture(t)

	logger := f.resolver.logger
	handlers := NewHandlers(f.resolver, f.subs, f.registry, logger)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router, f
}

func doRequest(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestResolveEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/tenants/tenant-1/entitlements/jobs.create", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var decision Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.Equal(t, tiers.TierFree, decision.Tier)
	require.NotNil(t, decision.Limits)
	assert.Equal(t, 3, decision.Limits.Limit)
}

func TestResolveEndpointDenialIsNotAnHTTPError(t *testing.T) {
	router, f := newTestRouter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.resolver.RecordUsage(ctx, "tenant-1", usage.MetricJobs)
		require.NoError(t, err)
	}

	// The query endpoint answers the question; it does not enforce.
	rec := doRequest(router, http.MethodGet, "/tenants/tenant-1/entitlements/jobs.create", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var decision Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonLimitExceeded, decision.Reason)
}

func TestResolveEndpointUnknownFeature(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/tenants/tenant-1/entitlements/no_such_feature", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordUsageEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		rec := doRequest(router, http.MethodPost, "/tenants/tenant-1/usage/jobs", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var check usage.LimitCheck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
		assert.Equal(t, i+1, check.Current)
	}

	// An exhausted quota answers 429, matching the enforcement middleware.
	rec := doRequest(router, http.MethodPost, "/tenants/tenant-1/usage/jobs", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Unknown metric names are rejected at the boundary.
	rec = doRequest(router, http.MethodPost, "/tenants/tenant-1/usage/bandwidth", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageSummaryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodGet, "/tenants/tenant-1/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary map[usage.Metric]usage.MetricSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary, len(usage.AllMetrics()))
	assert.Equal(t, 3, summary[usage.MetricJobs].Limit)
}

func TestChangeTierEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(router, http.MethodPut, "/tenants/tenant-1/subscription/tier",
		`{"tier":"pro","actor":"admin","reason":"upgrade"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var sub subscriptions.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, tiers.TierPro, sub.Tier)
	assert.Equal(t, 50, sub.Features.MaxActiveJobs)

	rec = doRequest(router, http.MethodPut, "/tenants/tenant-1/subscription/tier",
		`{"tier":"platinum"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	// Provision via first read.
	rec := doRequest(router, http.MethodGet, "/tenants/tenant-1/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodPost, "/tenants/tenant-1/subscription/cancel",
		`{"reason":"churn","actor":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Invalid transitions surface as conflicts.
	rec = doRequest(router, http.MethodPost, "/tenants/tenant-1/subscription/cancel",
		`{"reason":"again","actor":"admin"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(router, http.MethodPost, "/tenants/tenant-1/subscription/reactivate",
		`{"actor":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var sub subscriptions.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
}

func TestFlagEndpoints(t *testing.T) {
	router, f := newTestRouter(t)

	f.addFlag(t, &features.Flag{
		Key:          "advanced_analytics",
		Enabled:      true,
		RequiredTier: tiers.TierPro,
	})

	rec := doRequest(router, http.MethodGet, "/features", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doRequest(router, http.MethodGet, "/features/advanced_analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/features/no_such_flag", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, http.MethodPut, "/features/advanced_analytics/enabled",
		`{"enabled":false,"actor":"admin"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	flag, err := f.registry.Get(context.Background(), "advanced_analytics")
	require.NoError(t, err)
	assert.False(t, flag.Enabled)
}

func TestDependencyEndpointRejectsCycles(t *testing.T) {
	router, f := newTestRouter(t)

	f.addFlag(t, &features.Flag{Key: "scheduling", Enabled: true, RequiredTier: tiers.TierFree})
	f.addFlag(t, &features.Flag{
		Key:          "reminders",
		Enabled:      true,
		RequiredTier: tiers.TierFree,
		Dependencies: []features.Dependency{{Feature: "scheduling", Required: true}},
	})

	rec := doRequest(router, http.MethodPost, "/features/scheduling/dependencies",
		`{"feature":"reminders","required":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPost, "/features/scheduling/dependencies",
		`{"feature":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrideEndpoints(t *testing.T) {
	router, f := newTestRouter(t)

	f.addFlag(t, &features.Flag{
		Key:          "beta_messaging",
		Enabled:      true,
		RequiredTier: tiers.TierFree,
		Rollout:      features.Rollout{Strategy: features.RolloutPercentage, Percentage: 0},
	})

	rec := doRequest(router, http.MethodPut, "/features/beta_messaging/overrides/tenant-1",
		`{"enabled":true,"actor":"support"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	decision, err := f.resolver.Resolve(context.Background(), "tenant-1", FeatureRequirement("beta_messaging"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	rec = doRequest(router, http.MethodDelete, "/features/beta_messaging/overrides/tenant-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(router, http.MethodPut, "/features/no_such_flag/overrides/tenant-1",
		`{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
