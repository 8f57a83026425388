// ===========================================
// Package handler - Health Check Handler
// ===========================================
// TYPES OF HEALTH CHECKS:
// 1. Liveness: "Is the process alive?" - no dependency checks
// 2. Readiness: "Can the process handle requests?" - checks dependencies
//
// Dependencies are registered by name, so optional ones (NATS) only
// show up when they are configured.
// ===========================================

package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thromel/URLShortener-sub000/internal/models"
)

// Checker reports the health of one dependency. *database.PostgresDB,
// *database.RedisDB and *messaging.Bus satisfy it.
type Checker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checks  map[string]Checker
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, checks map[string]Checker) *HealthHandler {
	return &HealthHandler{checks: checks, version: version}
}

// ===========================================
// GET /health
// ===========================================
// Response (200 - healthy, 503 - unhealthy):
//
//	{
//	  "status": "healthy",
//	  "version": "1.0.0",
//	  "services": {
//	    "postgres": "ok",
//	    "redis": "ok",
//	    "nats": "ok"
//	  }
//	}
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	healthy := true
	for _, name := range h.names() {
		if err := h.checks[name].Health(ctx); err != nil {
			services[name] = "error: " + err.Error()
			healthy = false
		} else {
			services[name] = "ok"
		}
	}

	response := models.HealthResponse{
		Version:  h.version,
		Services: services,
	}
	if healthy {
		response.Status = "healthy"
		c.JSON(http.StatusOK, response)
	} else {
		response.Status = "unhealthy"
		// 503 tells load balancers to route traffic elsewhere
		c.JSON(http.StatusServiceUnavailable, response)
	}
}

// ===========================================
// GET /ready
// ===========================================
// Simpler readiness check - just returns 200 or 503.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	for _, name := range h.names() {
		if err := h.checks[name].Health(ctx); err != nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}
	}
	c.Status(http.StatusOK)
}

// ===========================================
// GET /live
// ===========================================
func (h *HealthHandler) Live(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *HealthHandler) names() []string {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
