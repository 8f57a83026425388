// ===========================================
// Package warming - Predictive Cache Warming
// ===========================================
// A background loop that keeps likely-to-be-requested codes in the
// cache before anyone asks for them.
//
// EACH TICK:
//  1. Refresh the tier snapshot if it is older than RefreshInterval
//  2. For Hot, Warm, Cold: warm the tier if its interval has elapsed
//
// The snapshot is swapped in whole through an atomic pointer, so
// Status and WarmTier never see a half-built classification.
// ===========================================

package warming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/repository"
)

// Classifier tiers trending codes. *analytics.Analyzer satisfies it.
type Classifier interface {
	ClassifyURLs(ctx context.Context, maxURLs int) ([]analytics.Classification, error)
	WarmingIntervals() analytics.WarmingIntervals
}

// Cache is the part of the hierarchical cache warming writes to.
type Cache interface {
	Exists(ctx context.Context, code string) bool
	Set(ctx context.Context, code, url string, ttl time.Duration)
}

// URLResolver reads targets from the durable read model.
type URLResolver interface {
	GetOriginalURL(ctx context.Context, code string) (string, error)
}

// Options configures the loop.
type Options struct {
	Tick             time.Duration
	RefreshInterval  time.Duration
	MaxURLs          int
	TrendingWindow   time.Duration
	IterationTimeout time.Duration
}

// Status is an observability snapshot of the loop.
type Status struct {
	RefreshedAt *time.Time                   `json:"refreshed_at,omitempty"`
	Fallback    bool                         `json:"fallback"`
	Counts      map[analytics.Tier]int       `json:"counts"`
	LastWarmed  map[analytics.Tier]time.Time `json:"last_warmed"`
	Warmed      map[analytics.Tier]int64     `json:"warmed_total"`
	Intervals   analytics.WarmingIntervals   `json:"intervals"`
}

type snapshot struct {
	tiers       map[analytics.Tier][]analytics.Classification
	refreshedAt time.Time
	fallback    bool
}

// Service runs predictive warming.
type Service struct {
	classifier Classifier
	trending   analytics.Source
	cache      Cache
	urls       URLResolver
	opts       Options
	log        zerolog.Logger
	now        func() time.Time

	snap atomic.Pointer[snapshot]

	mu         sync.Mutex
	lastWarmed map[analytics.Tier]time.Time
	warmed     map[analytics.Tier]int64
}

// New creates the service. All collaborators are long-lived and safe
// for concurrent use.
func New(classifier Classifier, trending analytics.Source, cache Cache, urls URLResolver, opts Options, log zerolog.Logger) *Service {
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Minute
	}
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = 1000
	}
	if opts.TrendingWindow <= 0 {
		opts.TrendingWindow = 24 * time.Hour
	}
	if opts.IterationTimeout <= 0 {
		opts.IterationTimeout = 45 * time.Second
	}
	return &Service{
		classifier: classifier,
		trending:   trending,
		cache:      cache,
		urls:       urls,
		opts:       opts,
		log:        log.With().Str("component", "warming").Logger(),
		now:        time.Now,
		lastWarmed: make(map[analytics.Tier]time.Time),
		warmed:     make(map[analytics.Tier]int64),
	}
}

// Run warms on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().Dur("tick", s.opts.Tick).Msg("cache warming started")

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Info().Msg("cache warming stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single iteration under IterationTimeout.
func (s *Service) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.IterationTimeout)
	defer cancel()

	if s.refreshDue() {
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("tier refresh failed, keeping previous snapshot")
		}
	}

	intervals := s.classifier.WarmingIntervals()
	for _, tier := range analytics.WarmedTiers() {
		if ctx.Err() != nil {
			return
		}
		if !s.tierDue(tier, intervals) {
			continue
		}

		n, err := s.WarmTier(ctx, tier)
		if err != nil {
			s.log.Warn().Err(err).Str("tier", string(tier)).Int("warmed", n).Msg("tier warming interrupted")
			continue
		}
		s.mu.Lock()
		s.lastWarmed[tier] = s.now()
		s.mu.Unlock()

		if n > 0 {
			s.log.Debug().Str("tier", string(tier)).Int("warmed", n).Msg("tier warmed")
		}
	}
}

// Refresh rebuilds the tier snapshot. If the classifier fails, tiers
// come from raw trending counts instead. The previous snapshot stays
// in place only when both fail.
func (s *Service) Refresh(ctx context.Context) error {
	next := &snapshot{refreshedAt: s.now()}

	classes, err := s.classifier.ClassifyURLs(ctx, s.opts.MaxURLs)
	if err != nil {
		s.log.Warn().Err(err).Msg("classifier failed, using trending fallback")

		trending, terr := s.trending.GetTrendingURLs(ctx, s.opts.MaxURLs, s.opts.TrendingWindow)
		if terr != nil {
			return fmt.Errorf("refresh tiers: %w", errors.Join(err, terr))
		}
		classes = fallbackClassify(trending)
		next.fallback = true
	}

	next.tiers = make(map[analytics.Tier][]analytics.Classification)
	for _, c := range classes {
		next.tiers[c.Tier] = append(next.tiers[c.Tier], c)
	}
	s.snap.Store(next)

	s.log.Info().
		Int("hot", len(next.tiers[analytics.TierHot])).
		Int("warm", len(next.tiers[analytics.TierWarm])).
		Int("cold", len(next.tiers[analytics.TierCold])).
		Bool("fallback", next.fallback).
		Msg("tier snapshot refreshed")
	return nil
}

// WarmTier writes every code of tier that is not already cached.
// It returns how many entries were written. Cancellation is checked
// between codes.
func (s *Service) WarmTier(ctx context.Context, tier analytics.Tier) (int, error) {
	snap := s.snap.Load()
	if snap == nil {
		return 0, nil
	}
	ttl := s.ttlFor(tier)

	warmed := 0
	defer func() {
		s.mu.Lock()
		s.warmed[tier] += int64(warmed)
		s.mu.Unlock()
	}()

	for _, c := range snap.tiers[tier] {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if s.cache.Exists(ctx, c.ShortCode) {
			continue
		}

		url, err := s.urls.GetOriginalURL(ctx, c.ShortCode)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("short_code", c.ShortCode).Msg("warming lookup failed")
			continue
		}

		s.cache.Set(ctx, c.ShortCode, url, ttl)
		warmed++
	}
	return warmed, nil
}

// Status reports the current snapshot and warm times.
func (s *Service) Status() Status {
	st := Status{
		Counts:     make(map[analytics.Tier]int),
		LastWarmed: make(map[analytics.Tier]time.Time),
		Warmed:     make(map[analytics.Tier]int64),
		Intervals:  s.classifier.WarmingIntervals(),
	}

	if snap := s.snap.Load(); snap != nil {
		at := snap.refreshedAt
		st.RefreshedAt = &at
		st.Fallback = snap.fallback
		for tier, list := range snap.tiers {
			st.Counts[tier] = len(list)
		}
	}

	s.mu.Lock()
	for tier, at := range s.lastWarmed {
		st.LastWarmed[tier] = at
	}
	for tier, n := range s.warmed {
		st.Warmed[tier] = n
	}
	s.mu.Unlock()
	return st
}

func (s *Service) refreshDue() bool {
	snap := s.snap.Load()
	return snap == nil || s.now().Sub(snap.refreshedAt) >= s.opts.RefreshInterval
}

func (s *Service) tierDue(tier analytics.Tier, intervals analytics.WarmingIntervals) bool {
	interval, ok := intervals.For(tier)
	if !ok {
		return false
	}
	s.mu.Lock()
	last, warmed := s.lastWarmed[tier]
	s.mu.Unlock()
	return !warmed || s.now().Sub(last) >= interval
}

// ttlFor scales the default TTL: Hot 2x, Warm 1x, Cold 0.5x.
func (s *Service) ttlFor(tier analytics.Tier) time.Duration {
	base := s.classifier.WarmingIntervals().DefaultTTL
	switch tier {
	case analytics.TierHot:
		return 2 * base
	case analytics.TierCold:
		return base / 2
	default:
		return base
	}
}

// fallbackClassify ranks by access count: top 5% Hot, top 20% Warm,
// the rest Cold.
func fallbackClassify(trending []analytics.TrendingURL) []analytics.Classification {
	sorted := make([]analytics.TrendingURL, len(trending))
	copy(sorted, trending)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AccessCount > sorted[j].AccessCount })

	n := len(sorted)
	hot, warm := n*5/100, n*20/100

	out := make([]analytics.Classification, n)
	for i, t := range sorted {
		tier := analytics.TierCold
		switch {
		case i < hot:
			tier = analytics.TierHot
		case i < warm:
			tier = analytics.TierWarm
		}
		out[i] = analytics.Classification{
			ShortCode:   t.ShortCode,
			OriginalURL: t.OriginalURL,
			AccessCount: t.AccessCount,
			TrendScore:  t.TrendScore,
			Tier:        tier,
		}
	}
	return out
}
