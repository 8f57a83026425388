package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thromel/URLShortener-sub000/internal/bloom"
	"github.com/thromel/URLShortener-sub000/internal/cache"
	"github.com/thromel/URLShortener-sub000/internal/warming"
)

// WarmingStatus is satisfied by *warming.Service.
type WarmingStatus interface {
	Status() warming.Status
}

// BloomStats is satisfied by *bloom.Filter.
type BloomStats interface {
	Stats() bloom.Stats
}

// CacheStats is satisfied by *cache.Hierarchical.
type CacheStats interface {
	Stats() cache.Stats
}

// InternalHandler exposes operational state of the resolution path.
// Any of its sources may be nil when the component is disabled.
type InternalHandler struct {
	warming WarmingStatus
	bloom   BloomStats
	cache   CacheStats
}

// NewInternalHandler creates the handler.
func NewInternalHandler(w WarmingStatus, b BloomStats, c CacheStats) *InternalHandler {
	return &InternalHandler{warming: w, bloom: b, cache: c}
}

// Warming serves GET /api/internal/warming.
func (h *InternalHandler) Warming(c *gin.Context) {
	if h.warming == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "status": h.warming.Status()})
}

// Bloom serves GET /api/internal/bloom.
func (h *InternalHandler) Bloom(c *gin.Context) {
	if h.bloom == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, h.bloom.Stats())
}

// Cache serves GET /api/internal/cache.
func (h *InternalHandler) Cache(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, h.cache.Stats())
}
