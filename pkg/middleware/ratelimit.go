package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig is the anonymous limit, keyed by client IP
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerTenantRateLimitConfig is the limit for identified tenants. Tenants are
// paying customers, so the window is more generous than the anonymous default.
func PerTenantRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// RateLimiter is a token-bucket limiter with in-process buckets. Single
// instance only; deployments with more than one replica use
// DistributedRateLimitMiddleware so tenants cannot multiply their limit by
// the replica count.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
}

type tokenBucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a rate limiter. A nil config means the anonymous
// default.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow reports whether the key may make another request, consuming one token
// when it may.
func (rl *RateLimiter) Allow(key string) bool {
	b := rl.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(rl.config)
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the number of tokens left for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.config.capacity()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		b = &tokenBucket{
			tokens:     rl.config.capacity(),
			lastUpdate: time.Now(),
		}
		rl.buckets[key] = b
	}
	return b
}

// refill adds the tokens accrued since the last update, capped at capacity.
// Caller holds b.mu.
func (b *tokenBucket) refill(config *RateLimitConfig) {
	now := time.Now()
	elapsed := now.Sub(b.lastUpdate)

	accrued := int(elapsed.Seconds() * float64(config.RequestsPerWindow) / config.WindowDuration.Seconds())
	if accrued <= 0 {
		return
	}

	b.tokens += accrued
	if limit := config.capacity(); b.tokens > limit {
		b.tokens = limit
	}
	b.lastUpdate = now
}

// Cleanup drops buckets idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup evicts idle buckets once per window until ctx is cancelled
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware throttles requests with separate limiters for
// identified tenants and anonymous clients
type RateLimitMiddleware struct {
	tenantLimiter    *RateLimiter
	anonymousLimiter *RateLimiter
}

// NewRateLimitMiddleware creates a rate limit middleware with the default
// tenant and anonymous limits
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		tenantLimiter:    NewRateLimiter(PerTenantRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// StartCleanup starts the bucket cleanup goroutines for both limiters
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context) {
	m.tenantLimiter.StartCleanup(ctx)
	m.anonymousLimiter.StartCleanup(ctx)
}

// Handler throttles the request. Identified tenants get the per-tenant
// limit; everyone else shares the anonymous limit keyed by client IP.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		var limiter *RateLimiter

		if tenantID := GetTenantID(r); tenantID != "" {
			key = "tenant:" + tenantID
			limiter = m.tenantLimiter
		} else {
			key = "ip:" + getClientIP(r)
			limiter = m.anonymousLimiter
		}

		if !limiter.Allow(key) {
			writeRateLimitExceeded(w, limiter.config)
			return
		}

		setRateLimitHeaders(w, limiter.config, limiter.Remaining(key))
		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, config *RateLimitConfig, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.WindowDuration).Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, config *RateLimitConfig) {
	retryAfter := strconv.Itoa(int(config.WindowDuration.Seconds()))
	setRateLimitHeaders(w, config, 0)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", retryAfter)
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + retryAfter + `}`))
}

// getClientIP prefers proxy headers over the raw remote address
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
