// ===========================================
// Package middleware - Rate Limiting
// ===========================================
// Protects the write endpoints from being used to flood the event
// log and the read model.
//
// ALGORITHM: fixed window counter in Redis.
//  1. Key = "ratelimit:{client}:{window start}"
//  2. INCR key, set expiry on the first hit
//  3. count > limit → 429
//
// Redis being down fails open: a redirect service that stops
// accepting links because its limiter is unavailable is worse than
// one that briefly does not limit.
// ===========================================

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/thromel/URLShortener-sub000/internal/database"
	"github.com/thromel/URLShortener-sub000/internal/models"
)

// Counter increments a windowed counter. *database.RedisDB satisfies it.
type Counter interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is the middleware for rate limiting.
type RateLimiter struct {
	counter    Counter
	limit      int
	windowSize time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter middleware.
func NewRateLimiter(counter Counter, limit int, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		counter:    counter,
		limit:      limit,
		windowSize: time.Minute,
		log:        log.With().Str("component", "ratelimit").Logger(),
		now:        time.Now,
	}
}

// Middleware returns the Gin middleware handler.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := clientIdentifier(c)

		window := rl.now().Truncate(rl.windowSize)
		key := database.RateLimitKey(identifier, window)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		count, err := rl.counter.IncrementRateLimit(ctx, key, rl.windowSize)
		if err != nil {
			rl.log.Warn().Err(err).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		remaining := rl.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(window.Add(rl.windowSize).Unix(), 10))

		if int(count) > rl.limit {
			retryAfter := int(rl.windowSize.Seconds() - rl.now().Sub(window).Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "Rate limit exceeded",
				Code:    models.ErrCodeRateLimited,
				Details: fmt.Sprintf("Try again in %d seconds", retryAfter),
			})
			return
		}

		c.Next()
	}
}

// clientIdentifier returns the caller's address for rate limiting
// and analytics.
//
// SECURITY NOTE:
// X-Forwarded-For can be spoofed! Only trust it if you're behind
// a trusted proxy (like Nginx or a load balancer).
func clientIdentifier(c *gin.Context) string {
	// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2"
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}

// ClientIP is clientIdentifier for handlers.
func ClientIP(c *gin.Context) string {
	return clientIdentifier(c)
}
