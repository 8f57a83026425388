// ===========================================
// Package models - API Data Transfer Objects
// ===========================================
// The HTTP contract. The aggregate in internal/domain is the source
// of truth; these types only shape what goes over the wire.
//
// NAMING CONVENTION:
// - Request/Response suffixes for DTOs
// - JSON fields in snake_case
// ===========================================

package models

import (
	"time"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// ===========================================
// Request DTOs
// ===========================================

// CreateURLRequest is the DTO for creating a new short URL.
type CreateURLRequest struct {
	// URL to shorten (required)
	URL string `json:"url" binding:"required,url"`

	// Custom alias (optional). Format rules are enforced by the service.
	CustomAlias string `json:"custom_alias,omitempty" binding:"omitempty,min=3,max=32"`

	// Owner of the URL (optional)
	UserID string `json:"user_id,omitempty" binding:"omitempty,max=128"`

	// Expiration in seconds (optional)
	// 0 or omitted means never expires
	ExpiresIn int `json:"expires_in,omitempty" binding:"omitempty,min=60"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// DisableURLRequest takes a URL out of service.
type DisableURLRequest struct {
	Reason domain.DisableReason `json:"reason" binding:"required,oneof=policy_violation suspicious_activity admin_action expired"`
	Notes  string               `json:"notes,omitempty" binding:"omitempty,max=500"`
}

// ===========================================
// Response DTOs
// ===========================================

// CreateURLResponse is returned after successfully creating a short URL.
type CreateURLResponse struct {
	ShortCode string     `json:"short_code"`           // The generated/custom code
	ShortURL  string     `json:"short_url"`            // Full clickable URL
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // When it expires (if set)
}

// URLResponse is one short URL in a listing.
type URLResponse struct {
	ShortCode     string        `json:"short_code"`
	ShortURL      string        `json:"short_url"`
	OriginalURL   string        `json:"original_url"`
	Status        domain.Status `json:"status"`
	IsCustomAlias bool          `json:"is_custom_alias"`
	AccessCount   int64         `json:"access_count"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

// NewURLResponse maps an aggregate to its listing shape.
func NewURLResponse(u *domain.ShortURL, baseURL string) URLResponse {
	return URLResponse{
		ShortCode:     u.ShortCode,
		ShortURL:      baseURL + "/" + u.ShortCode,
		OriginalURL:   u.OriginalURL,
		Status:        u.Status,
		IsCustomAlias: u.IsCustomAlias,
		AccessCount:   u.AccessCount,
		CreatedAt:     u.CreatedAt,
		ExpiresAt:     u.ExpiresAt,
	}
}

// URLListResponse is a page of URLs.
type URLListResponse struct {
	URLs   []URLResponse `json:"urls"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// URLStatsResponse contains analytics for a short URL.
type URLStatsResponse struct {
	ShortCode      string             `json:"short_code"`
	OriginalURL    string             `json:"original_url"`
	Status         domain.Status      `json:"status"`
	IsCustomAlias  bool               `json:"is_custom_alias"`
	AccessCount    int64              `json:"access_count"`
	Version        int                `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	LastAccessedAt *time.Time         `json:"last_accessed_at,omitempty"`
	Pattern        *analytics.Pattern `json:"pattern,omitempty"`
}

// AvailabilityResponse answers whether a custom alias is free.
type AvailabilityResponse struct {
	ShortCode string `json:"short_code"`
	Available bool   `json:"available"`
}

// ===========================================
// Error Response
// ===========================================

// ErrorResponse provides consistent error format across all endpoints.
// This is crucial for API consumers to handle errors programmatically.
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable message
	Code    string `json:"code,omitempty"`    // Machine-readable error code
	Details string `json:"details,omitempty"` // Additional context
}

// Common error codes (use with ErrorResponse.Code).
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeExpired       = "EXPIRED"
	ErrCodeDisabled      = "DISABLED"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ===========================================
// Health Check Response
// ===========================================

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status   string            `json:"status"`   // "healthy" or "unhealthy"
	Version  string            `json:"version"`  // Application version
	Services map[string]string `json:"services"` // Dependency health
}
