// Package cache provides a small JSON object cache for resolved media
// metadata. Primary backend: Redis (REDIS_DSN); development fallback is an
// in-process map.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-serializable values under string keys with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// New creates the best available cache: Redis when a DSN is given,
// otherwise in-memory.
func New(redisDSN string, ttl time.Duration) (Cache, error) {
	if redisDSN != "" {
		return NewRedisCache(redisDSN, ttl)
	}
	return NewMemoryCache(ttl), nil
}
