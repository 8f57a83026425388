// ===========================================
// Package handler - HTTP Request Handlers
// ===========================================
// Thin adapters over service.URLService:
// 1. Parse request
// 2. Call service
// 3. Map result or error to HTTP
//
// Every error goes through handleError so the status mapping lives
// in one place.
// ===========================================

package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/thromel/URLShortener-sub000/internal/domain"
	"github.com/thromel/URLShortener-sub000/internal/middleware"
	"github.com/thromel/URLShortener-sub000/internal/models"
	"github.com/thromel/URLShortener-sub000/internal/repository"
	"github.com/thromel/URLShortener-sub000/internal/service"
)

// URLHandler handles URL-related HTTP requests.
type URLHandler struct {
	urlService *service.URLService
	baseURL    string
	log        zerolog.Logger
}

// NewURLHandler creates a new URL handler.
func NewURLHandler(svc *service.URLService, baseURL string, log zerolog.Logger) *URLHandler {
	return &URLHandler{
		urlService: svc,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log.With().Str("component", "url_handler").Logger(),
	}
}

// ===========================================
// POST /api/shorten
// ===========================================
// Request:
//
//	{
//	  "url": "https://example.com/very/long/url",
//	  "custom_alias": "mylink",  // optional
//	  "user_id": "alice",        // optional
//	  "expires_in": 3600         // optional, seconds
//	}
//
// Response (201):
//
//	{
//	  "short_code": "mylink",
//	  "short_url": "http://localhost:8080/mylink",
//	  "expires_at": "2024-01-01T00:00:00Z"
//	}
func (h *URLHandler) Shorten(c *gin.Context) {
	var req models.CreateURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Code:    models.ErrCodeInvalidInput,
			Details: err.Error(),
		})
		return
	}

	create := service.CreateRequest{
		URL:         req.URL,
		CustomAlias: req.CustomAlias,
		UserID:      req.UserID,
		IPAddress:   middleware.ClientIP(c),
		UserAgent:   c.Request.UserAgent(),
		Metadata:    req.Metadata,
	}
	if req.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(req.ExpiresIn) * time.Second)
		create.ExpiresAt = &expiresAt
	}

	u, err := h.urlService.CreateShortURL(c.Request.Context(), create)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateURLResponse{
		ShortCode: u.ShortCode,
		ShortURL:  h.baseURL + "/" + u.ShortCode,
		ExpiresAt: u.ExpiresAt,
	})
}

// ===========================================
// GET /:shortCode
// ===========================================
// The hot path. Resolve, schedule access recording, redirect.
// Recording never delays the redirect.
//
// WHY 302 INSTEAD OF 301?
// A 301 is cached by the browser forever: later accesses would never
// reach us, and a disabled link would keep working for that client.
func (h *URLHandler) Redirect(c *gin.Context) {
	shortCode := c.Param("shortCode")

	originalURL, err := h.urlService.GetOriginalURL(c.Request.Context(), shortCode)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.urlService.RecordAccess(c.Request.Context(), service.AccessRequest{
		ShortCode: shortCode,
		IPAddress: middleware.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	})

	c.Header("Cache-Control", "private, max-age=0")
	c.Redirect(http.StatusFound, originalURL)
}

// ===========================================
// GET /api/stats/:shortCode
// ===========================================
// Counters are replayed from the event log, so they are exact even
// when the read model lags.
func (h *URLHandler) GetStats(c *gin.Context) {
	stats, err := h.urlService.GetURLStatistics(c.Request.Context(), c.Param("shortCode"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.URLStatsResponse{
		ShortCode:      stats.ShortCode,
		OriginalURL:    stats.OriginalURL,
		Status:         stats.Status,
		IsCustomAlias:  stats.IsCustomAlias,
		AccessCount:    stats.AccessCount,
		Version:        stats.Version,
		CreatedAt:      stats.CreatedAt,
		ExpiresAt:      stats.ExpiresAt,
		LastAccessedAt: stats.LastAccessedAt,
		Pattern:        stats.Pattern,
	})
}

// ===========================================
// POST /api/urls/:shortCode/disable
// ===========================================
// Response: 204 No Content
func (h *URLHandler) Disable(c *gin.Context) {
	var req models.DisableURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Code:    models.ErrCodeInvalidInput,
			Details: err.Error(),
		})
		return
	}

	if err := h.urlService.DisableURL(c.Request.Context(), c.Param("shortCode"), req.Reason, req.Notes); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ===========================================
// GET /api/availability/:shortCode
// ===========================================
func (h *URLHandler) Availability(c *gin.Context) {
	code := c.Param("shortCode")

	available, err := h.urlService.IsAvailable(c.Request.Context(), code)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AvailabilityResponse{ShortCode: code, Available: available})
}

// ===========================================
// GET /api/users/:userID/urls?limit=&offset=
// GET /api/urls?q=&limit=&offset=
// ===========================================

// ListUserURLs returns a user's URLs, newest first.
func (h *URLHandler) ListUserURLs(c *gin.Context) {
	page := pageFromQuery(c)

	urls, total, err := h.urlService.ListUserURLs(c.Request.Context(), c.Param("userID"), page)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.listResponse(urls, total, page))
}

// Search finds URLs by code or target substring.
func (h *URLHandler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Query parameter q is required",
			Code:  models.ErrCodeInvalidInput,
		})
		return
	}
	page := pageFromQuery(c)

	urls, total, err := h.urlService.SearchURLs(c.Request.Context(), q, page)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.listResponse(urls, total, page))
}

func (h *URLHandler) listResponse(urls []*domain.ShortURL, total int64, page repository.Page) models.URLListResponse {
	out := models.URLListResponse{
		URLs:   make([]models.URLResponse, 0, len(urls)),
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, u := range urls {
		out.URLs = append(out.URLs, models.NewURLResponse(u, h.baseURL))
	}
	return out
}

func pageFromQuery(c *gin.Context) repository.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return repository.Page{Limit: limit, Offset: offset}.Normalize()
}

// ===========================================
// Error Handling
// ===========================================
// Centralized error-to-HTTP mapping.

func (h *URLHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrURLNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "URL not found",
			Code:  models.ErrCodeNotFound,
		})

	case errors.Is(err, service.ErrURLExpired):
		c.JSON(http.StatusGone, models.ErrorResponse{
			Error: "URL has expired",
			Code:  models.ErrCodeExpired,
		})

	case errors.Is(err, service.ErrURLDisabled):
		c.JSON(http.StatusGone, models.ErrorResponse{
			Error: "URL has been disabled",
			Code:  models.ErrCodeDisabled,
		})

	case errors.Is(err, service.ErrCodeTaken):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: "Short code already taken",
			Code:  models.ErrCodeConflict,
		})

	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "Concurrent update",
			Code:    models.ErrCodeConflict,
			Details: "The URL changed while processing the request, retry",
		})

	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid short code format",
			Code:    models.ErrCodeInvalidInput,
			Details: "Letters, digits, '-' and '_'; must start with a letter or digit",
		})

	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid URL format",
			Code:    models.ErrCodeInvalidInput,
			Details: "URL must be an http:// or https:// address on an allowed domain",
		})

	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Validation failed",
			Code:    models.ErrCodeInvalidInput,
			Details: err.Error(),
		})

	default:
		// SECURITY: Don't expose internal error details!
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Internal server error",
			Code:  models.ErrCodeInternalError,
		})
	}
}
