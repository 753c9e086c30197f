package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/scoutline/entitlements/pkg/httputil"
	"github.com/scoutline/entitlements/pkg/observability"
)

// TenantHeader is consulted when the matched route carries no tenant variable.
const TenantHeader = "X-Tenant-ID"

// TenantContextMiddleware extracts the tenant ID from the route's {tenantId}
// variable or the X-Tenant-ID header and stores it in the request context.
// Requests without a tenant identity pass through untouched; enforcement
// middleware downstream decides whether that is acceptable.
func TenantContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["tenantId"]
		if tenantID == "" {
			tenantID = r.Header.Get(TenantHeader)
		}
		if tenantID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := observability.WithTenantID(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID returns the tenant ID for the request, or "" when none was set
func GetTenantID(r *http.Request) string {
	return observability.GetTenantID(r.Context())
}

// RequireTenant rejects requests that carry no tenant identity
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetTenantID(r) == "" {
			httputil.WriteBadRequest(w, "tenant identity required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
