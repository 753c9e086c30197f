package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/scoutline/entitlements/pkg/entitlements"
	"github.com/scoutline/entitlements/pkg/features"
	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/storage/memory"
	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

type enforcerFixture struct {
	enforcer *EnforcementMiddleware
	resolver *entitlements.Resolver
	flags    *memory.FlagStore
}

func newEnforcerFixture(t *testing.T) *enforcerFixture {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	subStore := memory.NewSubscriptionStore()
	flagStore := memory.NewFlagStore()

	subs := subscriptions.NewService(subStore, logger)
	meter := usage.NewMeter(subStore, logger)
	cache := features.NewCache(nil, 16, time.Minute, logger, nil)
	registry := features.NewRegistry(flagStore, cache, logger, nil)

	resolver := entitlements.NewResolver(subs, meter, registry, logger, nil, nil)
	return &enforcerFixture{
		enforcer: NewEnforcementMiddleware(resolver, logger),
		resolver: resolver,
		flags:    flagStore,
	}
}

func (f *enforcerFixture) addFlag(t *testing.T, flag *features.Flag) {
	t.Helper()
	if flag.Rollout.Strategy == "" {
		flag.Rollout.Strategy = features.RolloutInstant
	}
	if flag.Version == 0 {
		flag.Version = 1
	}
	created, err := f.flags.CreateIfAbsent(context.Background(), flag)
	if err != nil {
		t.Fatalf("Failed to create flag: %v", err)
	}
	if !created {
		t.Fatalf("Flag %s already existed", flag.Key)
	}
}

func (f *enforcerFixture) usedUnits(t *testing.T, tenantID string, metric usage.Metric) int {
	t.Helper()
	summary, err := f.resolver.GetUsageSummary(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Failed to load usage summary: %v", err)
	}
	return summary[metric].Used
}

func TestEnforceMetered_QuotaLifecycle(t *testing.T) {
	f := newEnforcerFixture(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	router := mux.NewRouter()
	router.Use(TenantContextMiddleware)
	router.Handle("/tenants/{tenantId}/jobs",
		f.enforcer.EnforceMetered("jobs.create")(handler)).Methods(http.MethodPost)

	// Free tier allows three job postings per month.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/tenants/tenant-1/jobs", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("Request %d: expected 201, got %d", i+1, rec.Code)
		}
	}

	if used := f.usedUnits(t, "tenant-1", usage.MetricJobs); used != 3 {
		t.Errorf("Expected 3 recorded job postings, got %d", used)
	}

	// Quota exhausted: denied with the decision body.
	req := httptest.NewRequest(http.MethodPost, "/tenants/tenant-1/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "limit_exceeded") {
		t.Errorf("Expected limit_exceeded in body, got: %s", body)
	}

	// The denied request did not consume quota.
	if used := f.usedUnits(t, "tenant-1", usage.MetricJobs); used != 3 {
		t.Errorf("Denied request should not consume quota, got %d", used)
	}
}

func TestEnforceMetered_FailedActionNotCounted(t *testing.T) {
	f := newEnforcerFixture(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	router := mux.NewRouter()
	router.Use(TenantContextMiddleware)
	router.Handle("/tenants/{tenantId}/jobs",
		f.enforcer.EnforceMetered("jobs.create")(handler)).Methods(http.MethodPost)

	req := httptest.NewRequest(http.MethodPost, "/tenants/tenant-1/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}

	if used := f.usedUnits(t, "tenant-1", usage.MetricJobs); used != 0 {
		t.Errorf("Failed action should not consume quota, got %d", used)
	}
}

func TestEnforceMetered_MissingTenant(t *testing.T) {
	f := newEnforcerFixture(t)

	handler := f.enforcer.EnforceMetered("jobs.create")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without tenant identity, got %d", rec.Code)
	}
}

func TestRequireFeature_TierGate(t *testing.T) {
	f := newEnforcerFixture(t)
	ctx := context.Background()

	f.addFlag(t, &features.Flag{
		Key:          "advanced_analytics",
		Enabled:      true,
		RequiredTier: tiers.TierPro,
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router := mux.NewRouter()
	router.Use(TenantContextMiddleware)
	router.Handle("/tenants/{tenantId}/analytics",
		f.enforcer.RequireFeature("advanced_analytics")(handler)).Methods(http.MethodGet)

	// Free tenant is below the required tier.
	req := httptest.NewRequest(http.MethodGet, "/tenants/tenant-1/analytics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "tier_too_low") {
		t.Errorf("Expected tier_too_low in body, got: %s", body)
	}

	// After an upgrade the gate opens.
	if _, err := f.resolver.ChangeTier(ctx, "tenant-1", tiers.TierPro, "admin", "upgrade"); err != nil {
		t.Fatalf("Failed to change tier: %v", err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tenants/tenant-1/analytics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after upgrade, got %d", rec.Code)
	}
}

func TestRequireFeature_DisabledFeature(t *testing.T) {
	f := newEnforcerFixture(t)

	f.addFlag(t, &features.Flag{
		Key:          "beta_messaging",
		Enabled:      false,
		RequiredTier: tiers.TierFree,
	})

	handler := f.enforcer.RequireFeature("beta_messaging")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/messaging", nil)
	req = setTenantForTest(req, "tenant-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "feature_disabled") {
		t.Errorf("Expected feature_disabled in body, got: %s", body)
	}
}

func TestTrackAPIUsage(t *testing.T) {
	f := newEnforcerFixture(t)

	handler := f.enforcer.TrackAPIUsage(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req = setTenantForTest(req, "tenant-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	// Recording happens off the request path; poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if used := f.usedUnits(t, "tenant-1", usage.MetricAPI); used == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("API usage was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
