package features

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/scoutline/entitlements/pkg/observability"
)

const flagKeyPrefix = "entitlements:flag:"

// Cache is a two-level read cache for flag records: an in-process expirable
// LRU in front of an optional shared Redis layer. Flags are read on nearly
// every request and change rarely, so both levels hold them for a short TTL
// and are invalidated on every write.
type Cache struct {
	lru     *expirable.LRU[string, *Flag]
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCache creates a flag cache. The Redis client may be nil, in which case
// only the in-process level is used. Metrics may be nil.
func NewCache(client *redis.Client, size int, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &Cache{
		client:  client,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
	c.lru = expirable.NewLRU[string, *Flag](size, func(string, *Flag) {
		c.countEviction("memory")
	}, ttl)
	return c
}

// Get returns the cached flag for a key, checking the in-process level first.
// A Redis hit repopulates the in-process level. Redis errors degrade to a miss.
func (c *Cache) Get(ctx context.Context, key string) (*Flag, bool) {
	if flag, ok := c.lru.Get(key); ok {
		c.countHit("memory")
		return flag, true
	}
	c.countMiss("memory")
	if c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, flagKeyPrefix+key).Bytes()
	if err == redis.Nil {
		c.countMiss("redis")
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("feature", key).Warn("flag cache read failed")
		c.countMiss("redis")
		return nil, false
	}

	var flag Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		c.logger.WithError(err).WithField("feature", key).Warn("flag cache entry corrupt")
		c.countMiss("redis")
		return nil, false
	}
	c.countHit("redis")
	c.lru.Add(key, &flag)
	return &flag, true
}

// Set stores the flag in both cache levels
func (c *Cache) Set(ctx context.Context, flag *Flag) {
	c.lru.Add(flag.Key, flag)
	if c.client == nil {
		return
	}

	data, err := json.Marshal(flag)
	if err != nil {
		c.logger.WithError(err).WithField("feature", flag.Key).Warn("failed to marshal flag for cache")
		return
	}
	if err := c.client.Set(ctx, flagKeyPrefix+flag.Key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("feature", flag.Key).Warn("flag cache write failed")
	}
}

// Invalidate evicts the flag from both cache levels after a write
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.lru.Remove(key)
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, flagKeyPrefix+key).Err(); err != nil {
		c.logger.WithError(err).WithField("feature", key).Warn("flag cache invalidation failed")
	}
}

// Purge clears the in-process level. Used after bulk catalog reloads.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) countHit(level string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(level).Inc()
	}
}

func (c *Cache) countMiss(level string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(level).Inc()
	}
}

func (c *Cache) countEviction(level string) {
	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.WithLabelValues(level, "lru").Inc()
	}
}
