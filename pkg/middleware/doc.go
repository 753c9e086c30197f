// Package middleware provides HTTP middleware for tenant context, entitlement
// enforcement, and rate limiting.
//
// # CRITICAL: Middleware Ordering Requirements
//
// Enforcement middleware has strict ordering dependencies. Incorrect order
// will cause gated requests to be rejected with 400 (no tenant in context).
//
// REQUIRED ORDERING (outer to inner):
//  1. TenantContextMiddleware - Extracts tenant ID from route or header
//  2. Rate limit middleware - keys off the tenant identity when present
//  3. Enforcement middleware - RequireFeature, EnforceMetered
//
// Example (correct):
//
//	router.Use(middleware.TenantContextMiddleware)       // 1. Sets tenant context
//	router.Use(rateLimiter.Handler)                      // 2. Per-tenant limits
//	router.Handle("/tenants/{tenantId}/jobs",
//	    enforcer.EnforceMetered("jobs.create")(handler)) // 3. Checks quota
//
// Example (WRONG - will not work):
//
//	router.Use(enforcer.EnforceMetered("jobs.create"))   // FAILS: No tenant in context yet
//	router.Use(middleware.TenantContextMiddleware)
//
// # Middleware Components
//
// TenantContextMiddleware: tenant identity extraction
//
//	router.Use(middleware.TenantContextMiddleware)
//	// Reads {tenantId} route variable or X-Tenant-ID header
//
// EnforcementMiddleware: entitlement gates
//
//	enforcer := middleware.NewEnforcementMiddleware(resolver, logger)
//	router.Handle("/jobs", enforcer.EnforceMetered("jobs.create")(createJob))
//	router.Handle("/analytics", enforcer.RequireFeature("advanced_analytics")(analytics))
//
// RateLimitMiddleware: In-memory rate limiting
//
//	router.Use(middleware.NewRateLimitMiddleware().Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting, shared across
// instances
//
//	router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient).Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-Tenant: 1000 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/entitlements: Decision resolution
//   - pkg/usage: Usage recording
package middleware
