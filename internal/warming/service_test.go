package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/cache"
	"github.com/thromel/URLShortener-sub000/internal/domain"
	"github.com/thromel/URLShortener-sub000/internal/repository"
)

type fakeClassifier struct {
	mu      sync.Mutex
	classes []analytics.Classification
	err     error
	calls   int
}

func (f *fakeClassifier) ClassifyURLs(context.Context, int) ([]analytics.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.classes, f.err
}

func (f *fakeClassifier) WarmingIntervals() analytics.WarmingIntervals {
	return analytics.DefaultWarmingIntervals()
}

type fakeTrending struct {
	urls []analytics.TrendingURL
	err  error
}

func (f *fakeTrending) GetTrendingURLs(context.Context, int, time.Duration) ([]analytics.TrendingURL, error) {
	return f.urls, f.err
}

func (f *fakeTrending) GetSummary(context.Context, string, time.Time, time.Time) (*analytics.Summary, error) {
	return nil, errors.New("not used")
}

// recordingCache remembers every write and its TTL.
type recordingCache struct {
	mu      sync.Mutex
	entries map[string]string
	ttls    map[string]time.Duration
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *recordingCache) Exists(_ context.Context, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[code]
	return ok
}

func (c *recordingCache) Set(_ context.Context, code, url string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = url
	c.ttls[code] = ttl
}

func (c *recordingCache) evict(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, code)
}

// seedRepo saves an active URL for every code.
func seedRepo(t *testing.T, codes ...string) *repository.MemoryURLRepository {
	t.Helper()
	repo := repository.NewMemoryURLRepository()
	for _, code := range codes {
		u, err := domain.NewShortURL(domain.CreateParams{
			OriginalURL: "https://example.com/" + code,
			CustomAlias: code,
		}, nil)
		require.NoError(t, err)
		require.NoError(t, repo.Save(context.Background(), u))
	}
	return repo
}

func classes(tier analytics.Tier, codes ...string) []analytics.Classification {
	out := make([]analytics.Classification, 0, len(codes))
	for _, code := range codes {
		out = append(out, analytics.Classification{ShortCode: code, Tier: tier})
	}
	return out
}

func newTestService(cls Classifier, trending analytics.Source, c Cache, urls URLResolver) *Service {
	return New(cls, trending, c, urls, Options{}, zerolog.Nop())
}

func TestWarmTierIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cls := &fakeClassifier{classes: classes(analytics.TierHot, "a", "b", "c")}
	local := cache.NewHierarchical(cache.NewLocalLayer(time.Hour, time.Hour), nil, nil, cache.Options{}, zerolog.Nop())
	svc := newTestService(cls, &fakeTrending{}, local, seedRepo(t, "a", "b", "c"))

	require.NoError(t, svc.Refresh(ctx))

	first, err := svc.WarmTier(ctx, analytics.TierHot)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	second, err := svc.WarmTier(ctx, analytics.TierHot)
	require.NoError(t, err)
	assert.Zero(t, second, "everything is already resident")

	url, ok := local.GetOriginalURL(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/b", url)
}

func TestWarmTierRewarmsEvicted(t *testing.T) {
	ctx := context.Background()
	c := newRecordingCache()
	svc := newTestService(&fakeClassifier{classes: classes(analytics.TierWarm, "a", "b")}, &fakeTrending{}, c, seedRepo(t, "a", "b"))
	require.NoError(t, svc.Refresh(ctx))

	_, err := svc.WarmTier(ctx, analytics.TierWarm)
	require.NoError(t, err)
	c.evict("a")

	n, err := svc.WarmTier(ctx, analytics.TierWarm)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWarmTierScalesTTL(t *testing.T) {
	ctx := context.Background()
	all := append(append(classes(analytics.TierHot, "h"), classes(analytics.TierWarm, "w")...), classes(analytics.TierCold, "c")...)
	c := newRecordingCache()
	svc := newTestService(&fakeClassifier{classes: all}, &fakeTrending{}, c, seedRepo(t, "h", "w", "c"))
	require.NoError(t, svc.Refresh(ctx))

	for _, tier := range analytics.WarmedTiers() {
		_, err := svc.WarmTier(ctx, tier)
		require.NoError(t, err)
	}

	assert.Equal(t, 4*time.Hour, c.ttls["h"])
	assert.Equal(t, 2*time.Hour, c.ttls["w"])
	assert.Equal(t, time.Hour, c.ttls["c"])
}

func TestWarmTierSkipsUnknownAndInactiveCodes(t *testing.T) {
	ctx := context.Background()
	repo := seedRepo(t, "live", "dead")
	dead, err := repo.GetByCode(ctx, "dead")
	require.NoError(t, err)
	require.NoError(t, dead.Disable(domain.ReasonAdminAction, ""))
	require.NoError(t, repo.Save(ctx, dead))

	c := newRecordingCache()
	svc := newTestService(&fakeClassifier{classes: classes(analytics.TierHot, "live", "dead", "ghost")}, &fakeTrending{}, c, repo)
	require.NoError(t, svc.Refresh(ctx))

	n, err := svc.WarmTier(ctx, analytics.TierHot)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, c.Exists(ctx, "live"))
	assert.False(t, c.Exists(ctx, "dead"))
	assert.False(t, c.Exists(ctx, "ghost"))
}

func TestWarmTierStopsOnCancellation(t *testing.T) {
	c := newRecordingCache()
	svc := newTestService(&fakeClassifier{classes: classes(analytics.TierHot, "a", "b")}, &fakeTrending{}, c, seedRepo(t, "a", "b"))
	require.NoError(t, svc.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := svc.WarmTier(ctx, analytics.TierHot)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestWarmTierWithoutSnapshot(t *testing.T) {
	svc := newTestService(&fakeClassifier{}, &fakeTrending{}, newRecordingCache(), seedRepo(t))

	n, err := svc.WarmTier(context.Background(), analytics.TierHot)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshFallsBackToTrending(t *testing.T) {
	trending := make([]analytics.TrendingURL, 0, 20)
	for i := 1; i <= 20; i++ {
		trending = append(trending, analytics.TrendingURL{ShortCode: fmt.Sprintf("t%02d", i), AccessCount: int64(i)})
	}
	svc := newTestService(&fakeClassifier{err: errors.New("analyzer down")}, &fakeTrending{urls: trending}, newRecordingCache(), seedRepo(t))

	require.NoError(t, svc.Refresh(context.Background()))

	st := svc.Status()
	assert.True(t, st.Fallback)
	assert.Equal(t, 1, st.Counts[analytics.TierHot])
	assert.Equal(t, 3, st.Counts[analytics.TierWarm])
	assert.Equal(t, 16, st.Counts[analytics.TierCold])
	assert.Zero(t, st.Counts[analytics.TierFrozen])
}

func TestFallbackClassifyRanksByCount(t *testing.T) {
	got := fallbackClassify([]analytics.TrendingURL{
		{ShortCode: "low", AccessCount: 1},
		{ShortCode: "top", AccessCount: 100},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "top", got[0].ShortCode)
	assert.Equal(t, analytics.TierCold, got[0].Tier, "5% of two codes rounds down to none")
}

func TestRefreshKeepsSnapshotWhenEverythingFails(t *testing.T) {
	ctx := context.Background()
	cls := &fakeClassifier{classes: classes(analytics.TierHot, "a")}
	trending := &fakeTrending{}
	svc := newTestService(cls, trending, newRecordingCache(), seedRepo(t, "a"))
	require.NoError(t, svc.Refresh(ctx))

	cls.err = errors.New("analyzer down")
	trending.err = errors.New("redis down")
	assert.Error(t, svc.Refresh(ctx))

	st := svc.Status()
	assert.False(t, st.Fallback)
	assert.Equal(t, 1, st.Counts[analytics.TierHot])
}

func TestRunOnceHonoursIntervals(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	all := append(append(classes(analytics.TierHot, "h"), classes(analytics.TierWarm, "w")...), classes(analytics.TierCold, "c")...)
	cls := &fakeClassifier{classes: all}
	c := newRecordingCache()
	svc := newTestService(cls, &fakeTrending{}, c, seedRepo(t, "h", "w", "c"))
	svc.now = func() time.Time { return now }

	svc.RunOnce(ctx)
	assert.Equal(t, 1, cls.calls)
	for _, tier := range analytics.WarmedTiers() {
		assert.Equal(t, now, svc.Status().LastWarmed[tier])
	}

	// Six minutes later only Hot is due again.
	c.evict("h")
	c.evict("w")
	now = now.Add(6 * time.Minute)
	svc.RunOnce(ctx)

	assert.Equal(t, 1, cls.calls, "snapshot is still fresh")
	assert.True(t, c.Exists(ctx, "h"))
	assert.False(t, c.Exists(ctx, "w"))

	st := svc.Status()
	assert.Equal(t, now, st.LastWarmed[analytics.TierHot])
	assert.Equal(t, now.Add(-6*time.Minute), st.LastWarmed[analytics.TierWarm])

	// After the refresh interval the snapshot is rebuilt.
	now = now.Add(30 * time.Minute)
	svc.RunOnce(ctx)
	assert.Equal(t, 2, cls.calls)
	assert.True(t, c.Exists(ctx, "w"))
}

func TestRunStopsWithContext(t *testing.T) {
	svc := New(&fakeClassifier{}, &fakeTrending{}, newRecordingCache(), seedRepo(t), Options{Tick: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
