// Package httputil provides HTTP handler utilities for consistent JSON
// responses, error status mapping, and request parsing.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, decision)
//	httputil.WriteNoContent(w)
//	httputil.WriteBadRequest(w, "unknown usage metric")
//	httputil.WritePaymentRequired(w, "requires tier pro")
//	httputil.WriteTooManyRequests(w, "monthly job quota exhausted")
//
// Every error helper writes a JSON body of the form {"error": message}.
//
// # Request Parsing
//
//	var req changeTierRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	if !httputil.RequireNonEmpty(w, req.Tier, "tier") {
//		return
//	}
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(httputil.RecoveryMiddleware(logger))
//
// # Related Packages
//
//   - pkg/middleware: tenant identity, entitlement enforcement, rate limiting
package httputil
