// ===========================================
// Package database - Redis Connection
// ===========================================
// Redis backs three things here:
// 1. The shared (layer 2) URL cache
// 2. Hourly access buckets and trending sets for analytics
// 3. Rate limiting counters
//
// A cache miss is NOT an error. Get returns ("", false, nil) for a
// missing key and an error only when Redis itself failed.
// ===========================================

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thromel/URLShortener-sub000/internal/config"
)

// RedisDB wraps the Redis client with application-specific methods.
type RedisDB struct {
	Client *redis.Client
}

// NewRedisDB creates a Redis client and verifies it with a ping.
func NewRedisDB(ctx context.Context, cfg config.RedisConfig) (*RedisDB, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Only override what the URL did not already say
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opt.MinIdleConns = cfg.MinIdleConns
	}

	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisDB{Client: client}, nil
}

// NewRedisDBFromClient wraps an existing client (tests, tooling).
func NewRedisDBFromClient(client *redis.Client) *RedisDB {
	return &RedisDB{Client: client}
}

// Close shuts down the Redis connection.
func (r *RedisDB) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Health checks if Redis is responsive.
func (r *RedisDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}

// ===========================================
// KEY OPERATIONS
// ===========================================

// RateLimitKey generates a key for rate limiting.
// Pattern: "ratelimit:{identifier}:{minute}"
func RateLimitKey(identifier string, window time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", identifier, window.Unix()/60)
}

// Get returns the value for key and whether it was present.
func (r *RedisDB) Get(ctx context.Context, key string) (string, bool, error) {
	result, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return result, true, nil
}

// SetWithTTL stores a value that Redis deletes after ttl.
func (r *RedisDB) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes keys.
func (r *RedisDB) Delete(ctx context.Context, keys ...string) error {
	if err := r.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (r *RedisDB) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// ===========================================
// RATE LIMITING OPERATIONS
// ===========================================
// Fixed window counter:
// 1. INCR "ratelimit:{client}:{minute}"
// 2. On the first hit, EXPIRE the key after the window
// 3. Over the limit → reject

// IncrementRateLimit increments the counter and returns the new count.
func (r *RedisDB) IncrementRateLimit(ctx context.Context, key string, windowSize time.Duration) (int64, error) {
	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit incr failed: %w", err)
	}

	if count == 1 {
		// A failed EXPIRE leaves a counter that only this window uses
		_ = r.Client.Expire(ctx, key, windowSize).Err()
	}

	return count, nil
}
