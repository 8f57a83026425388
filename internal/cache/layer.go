// ===========================================
// Package cache - Cache Layers
// ===========================================
// Resolution goes through up to three layers:
//
//   L1 local (go-cache)   ~ns, per process, short TTL
//   L2 shared (Redis)     ~ms, all instances, longer TTL
//   L3 edge (CDN)         invalidation only, never read here
//
// Any layer error is logged and treated as a miss. The durable
// store stays the source of truth; the cache only saves latency.
// ===========================================

package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/thromel/URLShortener-sub000/internal/database"
)

// Layer is one key/value cache tier.
type Layer interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// EdgeInvalidator pushes purge requests to the edge/CDN tier.
type EdgeInvalidator interface {
	InvalidatePath(ctx context.Context, path string) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// ===========================================
// L1: in-process
// ===========================================

// LocalLayer is an in-process TTL cache.
type LocalLayer struct {
	store *gocache.Cache
}

// NewLocalLayer creates a local layer. Expired items are swept
// every cleanup interval.
func NewLocalLayer(defaultTTL, cleanup time.Duration) *LocalLayer {
	return &LocalLayer{store: gocache.New(defaultTTL, cleanup)}
}

// Get implements Layer.
func (l *LocalLayer) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := l.store.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Set implements Layer.
func (l *LocalLayer) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.store.Set(key, value, ttl)
	return nil
}

// Delete implements Layer.
func (l *LocalLayer) Delete(_ context.Context, key string) error {
	l.store.Delete(key)
	return nil
}

// Len returns the number of items, including expired ones not yet swept.
func (l *LocalLayer) Len() int {
	return l.store.ItemCount()
}

// ===========================================
// L2: Redis
// ===========================================

// RedisLayer is the shared cache tier. Keys are namespaced with prefix.
type RedisLayer struct {
	redis  *database.RedisDB
	prefix string
}

// NewRedisLayer creates a Redis-backed layer.
func NewRedisLayer(redis *database.RedisDB, prefix string) *RedisLayer {
	return &RedisLayer{redis: redis, prefix: prefix}
}

// Key returns the Redis key used for a short code.
func (r *RedisLayer) Key(code string) string {
	return r.prefix + code
}

// Get implements Layer.
func (r *RedisLayer) Get(ctx context.Context, key string) (string, bool, error) {
	return r.redis.Get(ctx, r.Key(key))
}

// Set implements Layer.
func (r *RedisLayer) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.redis.SetWithTTL(ctx, r.Key(key), value, ttl)
}

// Delete implements Layer.
func (r *RedisLayer) Delete(ctx context.Context, key string) error {
	return r.redis.Delete(ctx, r.Key(key))
}

// ===========================================
// L3: no edge
// ===========================================

// NoopEdge is used when no edge tier is configured.
type NoopEdge struct{}

func (NoopEdge) InvalidatePath(context.Context, string) error    { return nil }
func (NoopEdge) InvalidatePattern(context.Context, string) error { return nil }
