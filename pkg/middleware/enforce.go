package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/scoutline/entitlements/pkg/async"
	"github.com/scoutline/entitlements/pkg/entitlements"
	"github.com/scoutline/entitlements/pkg/httputil"
	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/usage"
)

// EnforcementMiddleware gates HTTP handlers on entitlement decisions.
//
// REQUIRES: TenantContextMiddleware must run before any enforcement
// middleware; without a tenant identity in the context, gated requests are
// rejected with 400.
type EnforcementMiddleware struct {
	resolver *entitlements.Resolver
	logger   *observability.Logger
}

// NewEnforcementMiddleware creates a new enforcement middleware
func NewEnforcementMiddleware(resolver *entitlements.Resolver, logger *observability.Logger) *EnforcementMiddleware {
	return &EnforcementMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

// RequireFeature blocks the request unless the tenant is entitled to the
// feature. Denials answer with the decision body: 402 when an upgrade would
// lift the restriction, so clients can surface the required tier.
func (m *EnforcementMiddleware) RequireFeature(feature string) func(http.Handler) http.Handler {
	req := entitlements.FeatureRequirement(feature)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, ok := m.resolve(w, r, req)
			if !ok {
				return
			}
			if !decision.Allowed {
				writeDenial(w, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnforceMetered gates the request on the metered action's quota and records
// one unit of usage when the wrapped handler succeeds. The check does not
// consume quota; usage is recorded only for 2xx responses, so failed actions
// never count against the tenant.
func (m *EnforcementMiddleware) EnforceMetered(action string) func(http.Handler) http.Handler {
	req := entitlements.ParseRequirement(action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, ok := m.resolve(w, r, req)
			if !ok {
				return
			}
			if !decision.Allowed {
				writeDenial(w, decision)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 200 && rec.statusCode < 300 {
				if _, err := m.resolver.RecordUsage(r.Context(), GetTenantID(r), req.Metric()); err != nil {
					m.logger.WithError(err).
						WithField("metric", string(req.Metric())).
						Warn("failed to record usage after gated action")
				}
			}
		})
	}
}

// TrackAPIUsage counts every tenant-scoped request against the API-call meter
// without blocking the response path. Requests without a tenant identity are
// not counted.
func (m *EnforcementMiddleware) TrackAPIUsage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := GetTenantID(r); tenantID != "" {
			RecordUsageAsync(r.Context(), m.resolver, tenantID, usage.MetricAPI)
		}
		next.ServeHTTP(w, r)
	})
}

// resolve loads the tenant's decision for the requirement, writing the error
// response itself when the request cannot proceed. The bool reports whether
// the caller should continue.
func (m *EnforcementMiddleware) resolve(w http.ResponseWriter, r *http.Request, req entitlements.Requirement) (*entitlements.Decision, bool) {
	tenantID := GetTenantID(r)
	if tenantID == "" {
		httputil.WriteBadRequest(w, "tenant identity required")
		return nil, false
	}

	decision, err := m.resolver.Resolve(r.Context(), tenantID, req)
	if err != nil {
		observability.UpdateLoggerWithTraceContext(r.Context(), m.logger).
			WithError(err).
			WithField("requirement", req.String()).
			Error("entitlement check failed")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return decision, true
}

// writeDenial maps a denial onto 429 for exhausted quotas and 402 otherwise,
// with the full decision as the body
func writeDenial(w http.ResponseWriter, decision *entitlements.Decision) {
	status := http.StatusPaymentRequired
	if decision.Reason == entitlements.ReasonLimitExceeded {
		status = http.StatusTooManyRequests
	}
	httputil.WriteJSON(w, status, decision)
}

// RecordUsageAsync increments a usage metric off the request path. The write
// outlives the request context, so a client disconnect cannot lose the count.
func RecordUsageAsync(ctx context.Context, resolver *entitlements.Resolver, tenantID string, metric usage.Metric) {
	async.SafeGo(context.WithoutCancel(ctx), 5*time.Second, "record usage", func(ctx context.Context) error {
		_, err := resolver.RecordUsage(ctx, tenantID, metric)
		return err
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
