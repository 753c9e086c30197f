package httputil

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/scoutline/entitlements/pkg/observability"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an ID so log lines and client
// reports can be correlated. An inbound ID from a trusted proxy is kept;
// otherwise a fresh one is generated. The ID is echoed in the response and
// stored in the request context for observability.FromContext.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(observability.WithRequestID(r.Context(), requestID))
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a logged 500 instead of a
// dropped connection
func RecoveryMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("panic in HTTP handler")
					WriteInternalError(w, fmt.Errorf("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
