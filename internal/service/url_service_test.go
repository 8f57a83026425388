package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/bloom"
	"github.com/thromel/URLShortener-sub000/internal/cache"
	"github.com/thromel/URLShortener-sub000/internal/config"
	"github.com/thromel/URLShortener-sub000/internal/domain"
	"github.com/thromel/URLShortener-sub000/internal/eventstore"
	"github.com/thromel/URLShortener-sub000/internal/repository"
)

// ===========================================
// Test Fixtures
// ===========================================

type seqCodes struct{ n atomic.Int64 }

func (g *seqCodes) NextCode() (string, error) {
	return fmt.Sprintf("gen%d", g.n.Add(1)), nil
}

// spyRepo counts read-model lookups.
type spyRepo struct {
	*repository.MemoryURLRepository
	lookups atomic.Int64
	exists  atomic.Int64
	saveErr error
}

func (r *spyRepo) GetByCode(ctx context.Context, code string) (*domain.ShortURL, error) {
	r.lookups.Add(1)
	return r.MemoryURLRepository.GetByCode(ctx, code)
}

func (r *spyRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	r.exists.Add(1)
	return r.MemoryURLRepository.ExistsByCode(ctx, code)
}

func (r *spyRepo) Save(ctx context.Context, u *domain.ShortURL) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.MemoryURLRepository.Save(ctx, u)
}

// conflictingStore fails the first n non-initial appends with a
// version conflict.
type conflictingStore struct {
	*eventstore.MemoryStore
	remaining atomic.Int64
}

func (s *conflictingStore) SaveEvents(ctx context.Context, id uuid.UUID, events []domain.Event, expected int) error {
	if expected > 0 && s.remaining.Add(-1) >= 0 {
		return eventstore.ErrConcurrency
	}
	return s.MemoryStore.SaveEvents(ctx, id, events, expected)
}

type harness struct {
	svc      *URLService
	events   *eventstore.MemoryStore
	repo     *spyRepo
	filter   *bloom.Filter
	cache    *cache.Hierarchical
	recorder *analytics.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

func newHarnessWithStore(t *testing.T, wrap func(*eventstore.MemoryStore) eventstore.Store) *harness {
	t.Helper()

	h := &harness{
		events:   eventstore.NewMemoryStore(),
		repo:     &spyRepo{MemoryURLRepository: repository.NewMemoryURLRepository()},
		recorder: analytics.NewMemoryStore(),
	}
	filter, err := bloom.New(1000, 0.01)
	require.NoError(t, err)
	h.filter = filter
	h.cache = cache.NewHierarchical(cache.NewLocalLayer(time.Minute, time.Minute), nil, nil, cache.Options{}, zerolog.Nop())

	var store eventstore.Store = h.events
	if wrap != nil {
		store = wrap(h.events)
	}

	h.svc = NewURLService(Deps{
		Events:   store,
		URLs:     h.repo,
		Filter:   h.filter,
		Cache:    h.cache,
		Recorder: h.recorder,
		Codes:    &seqCodes{},
	}, config.ShortenerConfig{MaxCustomLength: 32}, zerolog.Nop())
	return h
}

func (h *harness) create(t *testing.T, req CreateRequest) *domain.ShortURL {
	t.Helper()
	u, err := h.svc.CreateShortURL(context.Background(), req)
	require.NoError(t, err)
	return u
}

// ===========================================
// Lifecycle
// ===========================================

func TestURLLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	u := h.create(t, CreateRequest{URL: "https://example.com/page"})
	code := u.ShortCode
	assert.False(t, u.IsCustomAlias)

	got, err := h.svc.GetOriginalURL(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", got)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.RecordAccessNow(ctx, AccessRequest{ShortCode: code, IPAddress: "203.0.113.7"}))
	}

	stats, err := h.svc.GetURLStatistics(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.AccessCount)
	assert.Equal(t, 4, stats.Version)
	assert.Equal(t, domain.StatusActive, stats.Status)
	assert.NotNil(t, stats.LastAccessedAt)

	require.NoError(t, h.svc.DisableURL(ctx, code, domain.ReasonPolicyViolation, "phishing"))
	assert.False(t, h.cache.Exists(ctx, code), "every cache layer is cleared")

	_, err = h.svc.GetOriginalURL(ctx, code)
	assert.ErrorIs(t, err, ErrURLDisabled)

	events, err := h.events.GetEvents(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, domain.KindDisabled, events[4].Kind())

	projected, err := h.repo.MemoryURLRepository.GetByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisabled, projected.Status)
	assert.Equal(t, int64(3), projected.AccessCount)
}

func TestCreateWithCustomAlias(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	u := h.create(t, CreateRequest{URL: "https://go.dev", CustomAlias: "golang", UserID: "alice"})
	assert.Equal(t, "golang", u.ShortCode)
	assert.True(t, u.IsCustomAlias)
	assert.True(t, h.filter.MightExist("golang"))

	_, err := h.svc.CreateShortURL(ctx, CreateRequest{URL: "https://rust-lang.org", CustomAlias: "golang"})
	assert.ErrorIs(t, err, ErrCodeTaken)

	available, err := h.svc.IsAvailable(ctx, "golang")
	require.NoError(t, err)
	assert.False(t, available)
}

func TestCreateValidation(t *testing.T) {
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name    string
		req     CreateRequest
		wantErr error
	}{
		{"empty URL", CreateRequest{}, ErrInvalidURL},
		{"not a URL", CreateRequest{URL: "definitely not"}, ErrInvalidURL},
		{"javascript scheme", CreateRequest{URL: "javascript:alert(1)"}, ErrInvalidURL},
		{"ftp scheme", CreateRequest{URL: "ftp://files.example.com"}, ErrInvalidURL},
		{"alias too short", CreateRequest{URL: "https://example.com", CustomAlias: "ab"}, ErrInvalidCode},
		{"alias with slash", CreateRequest{URL: "https://example.com", CustomAlias: "a/b/c"}, ErrInvalidCode},
		{"alias leading hyphen", CreateRequest{URL: "https://example.com", CustomAlias: "-abc"}, ErrInvalidCode},
		{"reserved alias", CreateRequest{URL: "https://example.com", CustomAlias: "health"}, ErrInvalidCode},
		{"expiry in the past", CreateRequest{URL: "https://example.com", ExpiresAt: &past}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.CreateShortURL(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateRejectsBlockedDomain(t *testing.T) {
	h := newHarness(t)
	h.svc.config.BlockedDomains = []string{"evil.example"}

	_, err := h.svc.CreateShortURL(context.Background(), CreateRequest{URL: "https://login.evil.example/x"})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = h.svc.CreateShortURL(context.Background(), CreateRequest{URL: "https://notevil.example/x"})
	assert.NoError(t, err)
}

func TestCreateCompensatesLostAliasRace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.repo.saveErr = repository.ErrAlreadyExists

	_, err := h.svc.CreateShortURL(ctx, CreateRequest{URL: "https://example.com", CustomAlias: "racer"})
	require.ErrorIs(t, err, ErrCodeTaken)

	created, err := h.events.GetEventsByType(ctx, domain.KindCreated, time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, created, 1)

	stream, err := h.events.GetEvents(ctx, created[0].AggregateID)
	require.NoError(t, err)
	require.Len(t, stream, 2)
	disabled, ok := stream[1].Payload.(*domain.Disabled)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonAdminAction, disabled.Reason)
	assert.Equal(t, aliasConflictNote, disabled.Notes)

	assert.False(t, h.cache.Exists(ctx, "racer"))
}

// ===========================================
// Resolution
// ===========================================

func TestCachedResolveSkipsStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com/cached"})
	before := h.repo.lookups.Load()

	for i := 0; i < 5; i++ {
		got, err := h.svc.GetOriginalURL(ctx, u.ShortCode)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/cached", got)
	}
	assert.Equal(t, before, h.repo.lookups.Load())
}

func TestResolveRefillsCacheAfterEviction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com/refill"})

	h.cache.Invalidate(ctx, u.ShortCode, cache.ReasonUpdate)
	require.False(t, h.cache.Exists(ctx, u.ShortCode))

	got, err := h.svc.GetOriginalURL(ctx, u.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/refill", got)
	assert.Equal(t, int64(1), h.repo.lookups.Load())
	assert.True(t, h.cache.Exists(ctx, u.ShortCode))
}

func TestBloomGateAvoidsStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.GetOriginalURL(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrURLNotFound)

	available, err := h.svc.IsAvailable(ctx, "never-issued")
	require.NoError(t, err)
	assert.True(t, available)

	assert.Zero(t, h.repo.lookups.Load())
	assert.Zero(t, h.repo.exists.Load())
}

func TestResolveExpiredTransitionsAggregate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	past := time.Now().Add(-time.Hour)
	u, err := domain.NewShortURL(domain.CreateParams{
		OriginalURL: "https://example.com/old",
		CustomAlias: "stale",
		ExpiresAt:   &past,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, h.events.SaveEvents(ctx, u.ID, u.UncommittedEvents(), 0))
	u.ClearUncommittedEvents()
	require.NoError(t, h.repo.Save(ctx, u))
	h.filter.Add("stale")

	_, err = h.svc.GetOriginalURL(ctx, "stale")
	assert.ErrorIs(t, err, ErrURLExpired)

	h.svc.Wait()

	stats, err := h.svc.GetURLStatistics(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stats.Status)

	_, err = h.svc.GetOriginalURL(ctx, "stale")
	assert.ErrorIs(t, err, ErrURLExpired)
}

func TestConcurrentMissesShareOneLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com/burst"})
	h.cache.Invalidate(ctx, u.ShortCode, cache.ReasonUpdate)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.svc.GetOriginalURL(ctx, u.ShortCode)
			assert.NoError(t, err)
			assert.Equal(t, "https://example.com/burst", got)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, h.repo.lookups.Load(), int64(20))
	assert.GreaterOrEqual(t, h.repo.lookups.Load(), int64(1))
}

// ===========================================
// Access Recording
// ===========================================

func TestRecordAccessInBackground(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com/bg"})

	h.svc.RecordAccess(ctx, AccessRequest{ShortCode: u.ShortCode, Referrer: "https://news.example.com/item"})
	h.svc.RecordAccess(ctx, AccessRequest{ShortCode: "unknown-code"})
	h.svc.Wait()

	stats, err := h.svc.GetURLStatistics(ctx, u.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AccessCount)

	summary, err := h.recorder.GetSummary(ctx, u.ShortCode, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalAccesses)
}

func TestRecordAccessRejectsInactive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com/off"})
	require.NoError(t, h.svc.DisableURL(ctx, u.ShortCode, domain.ReasonAdminAction, ""))

	err := h.svc.RecordAccessNow(ctx, AccessRequest{ShortCode: u.ShortCode})
	assert.ErrorIs(t, err, ErrURLDisabled)

	err = h.svc.RecordAccessNow(ctx, AccessRequest{ShortCode: "missing"})
	assert.ErrorIs(t, err, ErrURLNotFound)
}

func TestRecordAccessRetriesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int64
		wantErr   error
		wantCount int64
	}{
		{"single conflict", 1, nil, 1},
		{"at the retry limit", 3, nil, 1},
		{"beyond the retry limit", 4, ErrConflict, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			var store *conflictingStore
			h := newHarnessWithStore(t, func(m *eventstore.MemoryStore) eventstore.Store {
				store = &conflictingStore{MemoryStore: m}
				return store
			})
			u := h.create(t, CreateRequest{URL: "https://example.com/contended"})
			store.remaining.Store(tt.conflicts)

			err := h.svc.RecordAccessNow(ctx, AccessRequest{ShortCode: u.ShortCode})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			stats, err := h.svc.GetURLStatistics(ctx, u.ShortCode)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, stats.AccessCount)
		})
	}
}

func TestConcurrentAccessesAreAllCounted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.svc.config.MaxConflictRetries = 50
	u := h.create(t, CreateRequest{URL: "https://example.com/hot"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.svc.RecordAccessNow(ctx, AccessRequest{ShortCode: u.ShortCode}))
		}()
	}
	wg.Wait()

	stats, err := h.svc.GetURLStatistics(ctx, u.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.AccessCount)
	assert.Equal(t, 11, stats.Version)
}

// ===========================================
// Disable, Statistics, Listing
// ===========================================

func TestDisableURLErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com"})

	err := h.svc.DisableURL(ctx, u.ShortCode, domain.DisableReason("bored"), "")
	assert.ErrorIs(t, err, ErrValidation)

	err = h.svc.DisableURL(ctx, "missing", domain.ReasonAdminAction, "")
	assert.ErrorIs(t, err, ErrURLNotFound)
}

func TestDisableTwiceKeepsFirstStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.create(t, CreateRequest{URL: "https://example.com"})

	require.NoError(t, h.svc.DisableURL(ctx, u.ShortCode, domain.ReasonPolicyViolation, ""))
	require.NoError(t, h.svc.DisableURL(ctx, u.ShortCode, domain.ReasonExpired, ""))

	stats, err := h.svc.GetURLStatistics(ctx, u.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisabled, stats.Status)
	assert.Equal(t, 3, stats.Version)
}

func TestStatisticsIncludePattern(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.svc.analyzer = analytics.NewAnalyzer(h.recorder, analytics.AnalyzerConfig{}, zerolog.Nop())
	u := h.create(t, CreateRequest{URL: "https://example.com"})

	_, err := h.svc.GetURLStatistics(ctx, "missing")
	assert.ErrorIs(t, err, ErrURLNotFound)

	stats, err := h.svc.GetURLStatistics(ctx, u.ShortCode)
	require.NoError(t, err)
	require.NotNil(t, stats.Pattern)
	assert.Equal(t, u.ShortCode, stats.Pattern.ShortCode)
}

func TestListAndSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.create(t, CreateRequest{URL: "https://go.dev/doc", UserID: "alice"})
	h.create(t, CreateRequest{URL: "https://go.dev/blog", UserID: "alice"})
	h.create(t, CreateRequest{URL: "https://rust-lang.org", UserID: "bob"})

	urls, total, err := h.svc.ListUserURLs(ctx, "alice", repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, urls, 2)

	found, total, err := h.svc.SearchURLs(ctx, "rust", repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].UserID)
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{domain.ErrURLExpired, ErrURLExpired},
		{fmt.Errorf("wrapped: %w", domain.ErrURLInactive), ErrURLDisabled},
		{domain.ErrInvalidInput, ErrValidation},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, mapDomainError(tt.in), tt.want)
	}

	other := errors.New("boom")
	assert.Equal(t, other, mapDomainError(other))
}
