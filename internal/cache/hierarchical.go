package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Reason says why an entry is being invalidated.
type Reason string

const (
	ReasonUpdate             Reason = "update"
	ReasonExpired            Reason = "expired"
	ReasonAdminAction        Reason = "admin_action"
	ReasonPolicyViolation    Reason = "policy_violation"
	ReasonSuspiciousActivity Reason = "suspicious_activity"
)

// forcesEdgePurge reports whether the edge copy must go now instead
// of waiting for its TTL.
func (r Reason) forcesEdgePurge() bool {
	return r == ReasonPolicyViolation || r == ReasonSuspiciousActivity
}

// Options configures the hierarchical cache.
type Options struct {
	LocalTTL       time.Duration
	DistributedTTL time.Duration
	LayerTimeout   time.Duration
	EdgeEnabled    bool
}

// Stats counts lookups per layer.
type Stats struct {
	LocalHits   int64 `json:"local_hits"`
	SharedHits  int64 `json:"shared_hits"`
	Misses      int64 `json:"misses"`
	Promotions  int64 `json:"promotions"`
	LayerErrors int64 `json:"layer_errors"`
	EdgePurges  int64 `json:"edge_purges"`
}

// Hierarchical chains a local layer, an optional shared layer, and an
// optional edge invalidator.
type Hierarchical struct {
	local  Layer
	shared Layer
	edge   EdgeInvalidator
	opts   Options
	log    zerolog.Logger

	localHits   atomic.Int64
	sharedHits  atomic.Int64
	misses      atomic.Int64
	promotions  atomic.Int64
	layerErrors atomic.Int64
	edgePurges  atomic.Int64
}

// NewHierarchical builds the cache. shared and edge may be nil.
func NewHierarchical(local, shared Layer, edge EdgeInvalidator, opts Options, log zerolog.Logger) *Hierarchical {
	if edge == nil {
		edge = NoopEdge{}
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = 5 * time.Minute
	}
	if opts.DistributedTTL <= 0 {
		opts.DistributedTTL = time.Hour
	}
	if opts.LayerTimeout <= 0 {
		opts.LayerTimeout = 100 * time.Millisecond
	}
	return &Hierarchical{
		local:  local,
		shared: shared,
		edge:   edge,
		opts:   opts,
		log:    log.With().Str("component", "cache").Logger(),
	}
}

// GetOriginalURL looks the code up in L1 then L2. An L2 hit is
// promoted into L1. A miss means the caller must go to the store.
func (h *Hierarchical) GetOriginalURL(ctx context.Context, code string) (string, bool) {
	if url, ok := h.get(ctx, h.local, "local", code); ok {
		h.localHits.Add(1)
		return url, true
	}

	if h.shared != nil {
		if url, ok := h.get(ctx, h.shared, "shared", code); ok {
			h.sharedHits.Add(1)
			if err := h.local.Set(ctx, code, url, h.opts.LocalTTL); err != nil {
				h.layerError(err, "local", "promote", code)
			} else {
				h.promotions.Add(1)
			}
			return url, true
		}
	}

	h.misses.Add(1)
	return "", false
}

// Set writes the code to L1 and L2. A zero ttl uses each layer's
// default; a positive ttl applies to L2 and caps L1 at its default.
func (h *Hierarchical) Set(ctx context.Context, code, url string, ttl time.Duration) {
	localTTL, sharedTTL := h.opts.LocalTTL, h.opts.DistributedTTL
	if ttl > 0 {
		sharedTTL = ttl
		localTTL = min(ttl, h.opts.LocalTTL)
	}

	if err := h.local.Set(ctx, code, url, localTTL); err != nil {
		h.layerError(err, "local", "set", code)
	}

	if h.shared != nil {
		lctx, cancel := context.WithTimeout(ctx, h.opts.LayerTimeout)
		defer cancel()
		if err := h.shared.Set(lctx, code, url, sharedTTL); err != nil {
			h.layerError(err, "shared", "set", code)
		}
	}
}

// Invalidate removes the code from L1 and L2. Policy violations and
// suspicious activity also purge the edge; other reasons let the
// edge copy expire on its own.
func (h *Hierarchical) Invalidate(ctx context.Context, code string, reason Reason) {
	if err := h.local.Delete(ctx, code); err != nil {
		h.layerError(err, "local", "delete", code)
	}

	if h.shared != nil {
		lctx, cancel := context.WithTimeout(ctx, h.opts.LayerTimeout)
		if err := h.shared.Delete(lctx, code); err != nil {
			h.layerError(err, "shared", "delete", code)
		}
		cancel()
	}

	if !h.opts.EdgeEnabled || !reason.forcesEdgePurge() {
		return
	}

	if err := h.edge.InvalidatePath(ctx, "/"+code); err != nil {
		h.layerError(err, "edge", "invalidate", code)
		return
	}
	if err := h.edge.InvalidatePattern(ctx, fmt.Sprintf("/%s/*", code)); err != nil {
		h.layerError(err, "edge", "invalidate_pattern", code)
		return
	}
	h.edgePurges.Add(1)
	h.log.Info().Str("short_code", code).Str("reason", string(reason)).Msg("edge purge requested")
}

// Exists reports whether the code is resident in L1 or L2.
func (h *Hierarchical) Exists(ctx context.Context, code string) bool {
	if _, ok := h.get(ctx, h.local, "local", code); ok {
		return true
	}
	if h.shared != nil {
		_, ok := h.get(ctx, h.shared, "shared", code)
		return ok
	}
	return false
}

// Stats returns lookup counters.
func (h *Hierarchical) Stats() Stats {
	return Stats{
		LocalHits:   h.localHits.Load(),
		SharedHits:  h.sharedHits.Load(),
		Misses:      h.misses.Load(),
		Promotions:  h.promotions.Load(),
		LayerErrors: h.layerErrors.Load(),
		EdgePurges:  h.edgePurges.Load(),
	}
}

func (h *Hierarchical) get(ctx context.Context, layer Layer, name, code string) (string, bool) {
	if name != "local" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.LayerTimeout)
		defer cancel()
	}

	url, ok, err := layer.Get(ctx, code)
	if err != nil {
		h.layerError(err, name, "get", code)
		return "", false
	}
	return url, ok
}

func (h *Hierarchical) layerError(err error, layer, op, code string) {
	h.layerErrors.Add(1)
	h.log.Warn().Err(err).
		Str("layer", layer).
		Str("op", op).
		Str("short_code", code).
		Msg("cache layer failed, treating as miss")
}
