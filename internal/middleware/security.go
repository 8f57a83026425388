// ===========================================
// Package middleware - Security Headers and CORS
// ===========================================
// A shortener hands out redirects to arbitrary targets, so its own
// responses must never be framable, sniffable or cacheable by a
// shared proxy. Redirects get their own cache policy in the handler.
// ===========================================

package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders returns middleware that sets security headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Block MIME sniffing and framing (clickjacking).
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		// Cross-origin navigations only learn our origin, not the code.
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// JSON API: nothing to load, nothing to embed.
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// CAUTION: HSTS only behind real TLS. Once set, browsers
		// refuse plain HTTP for max-age.
		// c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

// ===========================================
// CORS Configuration
// ===========================================

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // Preflight cache duration in seconds
}

// DefaultCORSConfig returns permissive defaults suitable for a public
// read API. Restrict AllowedOrigins when admin endpoints are exposed.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:         86400,
	}
}

// CORS returns CORS middleware with the given config.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigin := ""
		for _, allowed := range cfg.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				allowedOrigin = allowed
				break
			}
		}
		if allowedOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowedOrigin)
		}

		// Vary header tells caches that response depends on Origin
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
			if cfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
