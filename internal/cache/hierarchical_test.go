package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenLayer struct{}

var errUnavailable = errors.New("connection refused")

func (brokenLayer) Get(context.Context, string) (string, bool, error) {
	return "", false, errUnavailable
}
func (brokenLayer) Set(context.Context, string, string, time.Duration) error { return errUnavailable }
func (brokenLayer) Delete(context.Context, string) error                    { return errUnavailable }

// slowLayer blocks until its context is done.
type slowLayer struct{}

func (slowLayer) Get(ctx context.Context, _ string) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}
func (slowLayer) Set(ctx context.Context, _, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}
func (slowLayer) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// ttlLayer remembers the TTL of each write.
type ttlLayer struct {
	*LocalLayer
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func newTTLLayer() *ttlLayer {
	return &ttlLayer{LocalLayer: NewLocalLayer(time.Hour, time.Hour), ttls: map[string]time.Duration{}}
}

func (l *ttlLayer) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	l.ttls[key] = ttl
	l.mu.Unlock()
	return l.LocalLayer.Set(ctx, key, value, ttl)
}

type spyEdge struct {
	mu       sync.Mutex
	paths    []string
	patterns []string
}

func (e *spyEdge) InvalidatePath(_ context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, path)
	return nil
}

func (e *spyEdge) InvalidatePattern(_ context.Context, pattern string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patterns = append(e.patterns, pattern)
	return nil
}

func newTestCache(shared Layer, edge EdgeInvalidator) (*Hierarchical, *LocalLayer) {
	local := NewLocalLayer(time.Minute, time.Minute)
	h := NewHierarchical(local, shared, edge, Options{
		LocalTTL:       time.Minute,
		DistributedTTL: time.Hour,
		LayerTimeout:   20 * time.Millisecond,
		EdgeEnabled:    true,
	}, zerolog.Nop())
	return h, local
}

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	shared := NewLocalLayer(time.Hour, time.Hour)
	h, local := newTestCache(shared, nil)

	h.Set(ctx, "abc", "https://example.com/page", 0)

	url, ok := h.GetOriginalURL(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/page", url)

	_, inLocal, _ := local.Get(ctx, "abc")
	_, inShared, _ := shared.Get(ctx, "abc")
	assert.True(t, inLocal)
	assert.True(t, inShared)
	assert.Equal(t, int64(1), h.Stats().LocalHits)
}

func TestSharedHitIsPromoted(t *testing.T) {
	ctx := context.Background()
	shared := NewLocalLayer(time.Hour, time.Hour)
	h, local := newTestCache(shared, nil)

	require.NoError(t, shared.Set(ctx, "xyz", "https://example.org", time.Hour))

	url, ok := h.GetOriginalURL(ctx, "xyz")
	require.True(t, ok)
	assert.Equal(t, "https://example.org", url)

	promoted, inLocal, _ := local.Get(ctx, "xyz")
	assert.True(t, inLocal)
	assert.Equal(t, "https://example.org", promoted)

	_, stillShared, _ := shared.Get(ctx, "xyz")
	assert.True(t, stillShared, "promotion copies, it does not move")

	stats := h.Stats()
	assert.Equal(t, int64(1), stats.SharedHits)
	assert.Equal(t, int64(1), stats.Promotions)
}

func TestInvalidateIsDeterministicMiss(t *testing.T) {
	ctx := context.Background()
	edge := &spyEdge{}
	h, _ := newTestCache(NewLocalLayer(time.Hour, time.Hour), edge)

	h.Set(ctx, "gone", "https://example.com", 0)
	require.True(t, h.Exists(ctx, "gone"))

	h.Invalidate(ctx, "gone", ReasonUpdate)

	_, ok := h.GetOriginalURL(ctx, "gone")
	assert.False(t, ok)
	assert.False(t, h.Exists(ctx, "gone"))
	assert.Empty(t, edge.paths, "routine updates rely on edge TTL")
}

func TestInvalidateEdgePurgeByReason(t *testing.T) {
	tests := []struct {
		reason    Reason
		wantPurge bool
	}{
		{ReasonPolicyViolation, true},
		{ReasonSuspiciousActivity, true},
		{ReasonAdminAction, false},
		{ReasonExpired, false},
		{ReasonUpdate, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			edge := &spyEdge{}
			h, _ := newTestCache(nil, edge)

			h.Invalidate(context.Background(), "code1", tt.reason)

			if tt.wantPurge {
				assert.Equal(t, []string{"/code1"}, edge.paths)
				assert.Equal(t, []string{"/code1/*"}, edge.patterns)
				assert.Equal(t, int64(1), h.Stats().EdgePurges)
			} else {
				assert.Empty(t, edge.paths)
				assert.Empty(t, edge.patterns)
			}
		})
	}
}

func TestBrokenSharedLayerDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestCache(brokenLayer{}, nil)

	_, ok := h.GetOriginalURL(ctx, "nope")
	assert.False(t, ok)

	h.Set(ctx, "abc", "https://example.com", 0)
	url, ok := h.GetOriginalURL(ctx, "abc")
	assert.True(t, ok, "local layer still serves")
	assert.Equal(t, "https://example.com", url)

	h.Invalidate(ctx, "abc", ReasonUpdate)
	assert.False(t, h.Exists(ctx, "abc"))
	assert.Positive(t, h.Stats().LayerErrors)
}

func TestSlowSharedLayerTimesOut(t *testing.T) {
	h, _ := newTestCache(slowLayer{}, nil)

	start := time.Now()
	_, ok := h.GetOriginalURL(context.Background(), "slow")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSetTTLOverride(t *testing.T) {
	ctx := context.Background()
	local := newTTLLayer()
	shared := newTTLLayer()
	h := NewHierarchical(local, shared, nil, Options{
		LocalTTL:       time.Minute,
		DistributedTTL: time.Hour,
	}, zerolog.Nop())

	h.Set(ctx, "default", "https://example.com", 0)
	assert.Equal(t, time.Minute, local.ttls["default"])
	assert.Equal(t, time.Hour, shared.ttls["default"])

	h.Set(ctx, "hot", "https://example.com", 4*time.Hour)
	assert.Equal(t, time.Minute, local.ttls["hot"], "local never exceeds its default")
	assert.Equal(t, 4*time.Hour, shared.ttls["hot"])

	h.Set(ctx, "short", "https://example.com", 10*time.Second)
	assert.Equal(t, 10*time.Second, local.ttls["short"])
	assert.Equal(t, 10*time.Second, shared.ttls["short"])
}

func TestLocalOnlyCache(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestCache(nil, nil)

	assert.False(t, h.Exists(ctx, "abc"))
	h.Set(ctx, "abc", "https://example.com", 0)
	assert.True(t, h.Exists(ctx, "abc"))
}
