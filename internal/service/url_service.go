// ===========================================
// Package service - Business Logic Layer
// ===========================================
// URLService is the façade the HTTP layer talks to. It orchestrates:
//
//   event store  → source of truth (append with version check)
//   repository   → read model projected after every append
//   bloom filter → cheap "definitely not here" answers
//   cache        → L1/L2 for redirects
//   analytics    → access buckets for the warming loop
//
// WRITE PATH (create, record access, disable):
//   load events → replay aggregate → operation raises events →
//   SaveEvents(expectedVersion) → project → cache/bloom/publish
//
// Only the write itself can fail a request. Cache, analytics,
// enrichment and publishing failures are logged and swallowed.
// ===========================================

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/cache"
	"github.com/thromel/URLShortener-sub000/internal/config"
	"github.com/thromel/URLShortener-sub000/internal/domain"
	"github.com/thromel/URLShortener-sub000/internal/eventstore"
	"github.com/thromel/URLShortener-sub000/internal/messaging"
	"github.com/thromel/URLShortener-sub000/internal/repository"
)

// Service errors
var (
	ErrURLNotFound = errors.New("URL not found")
	ErrURLExpired  = errors.New("URL has expired")
	ErrURLDisabled = errors.New("URL has been disabled")
	ErrCodeTaken   = errors.New("short code already taken")
	ErrInvalidCode = errors.New("invalid short code format")
	ErrInvalidURL  = errors.New("invalid URL format")
	ErrConflict    = errors.New("too many concurrent updates, try again")
	ErrValidation  = errors.New("validation failed")
)

// aliasConflictNote marks aggregates that lost a custom alias race.
const aliasConflictNote = "alias conflict"

// Filter is the existence filter in front of the read model.
type Filter interface {
	Add(key string)
	MightExist(key string) bool
}

// Cache is the redirect cache.
type Cache interface {
	GetOriginalURL(ctx context.Context, code string) (string, bool)
	Set(ctx context.Context, code, url string, ttl time.Duration)
	Invalidate(ctx context.Context, code string, reason cache.Reason)
	Exists(ctx context.Context, code string) bool
}

// Enricher derives location and device details for an access.
type Enricher interface {
	Enrich(ctx context.Context, ip, userAgent string) (domain.Location, domain.DeviceInfo)
}

// PatternAnalyzer adds traffic analysis to statistics.
type PatternAnalyzer interface {
	AnalyzePattern(ctx context.Context, code string) analytics.Pattern
}

// Deps are the collaborators of URLService. Analyzer, Enricher and
// Publisher are optional.
type Deps struct {
	Events    eventstore.Store
	URLs      repository.URLRepository
	Filter    Filter
	Cache     Cache
	Recorder  analytics.Recorder
	Analyzer  PatternAnalyzer
	Enricher  Enricher
	Publisher messaging.EventPublisher
	Codes     domain.CodeGenerator
}

// URLService handles URL shortening business logic.
type URLService struct {
	events    eventstore.Store
	urls      repository.URLRepository
	filter    Filter
	cache     Cache
	recorder  analytics.Recorder
	analyzer  PatternAnalyzer
	enricher  Enricher
	publisher messaging.EventPublisher
	codes     domain.CodeGenerator

	config   config.ShortenerConfig
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time

	resolving  singleflight.Group
	background sync.WaitGroup
}

// NewURLService creates the service.
func NewURLService(deps Deps, cfg config.ShortenerConfig, log zerolog.Logger) *URLService {
	if deps.Publisher == nil {
		deps.Publisher = messaging.NoopPublisher{}
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 3
	}
	if cfg.RecordAccessTimeout <= 0 {
		cfg.RecordAccessTimeout = 5 * time.Second
	}
	if cfg.MinCustomLength <= 0 {
		cfg.MinCustomLength = 3
	}
	if cfg.MaxCustomLength <= 0 {
		cfg.MaxCustomLength = 32
	}
	return &URLService{
		events:    deps.Events,
		urls:      deps.URLs,
		filter:    deps.Filter,
		cache:     deps.Cache,
		recorder:  deps.Recorder,
		analyzer:  deps.Analyzer,
		enricher:  deps.Enricher,
		publisher: deps.Publisher,
		codes:     deps.Codes,
		config:    cfg,
		validate:  validator.New(),
		log:       log.With().Str("component", "url_service").Logger(),
		now:       time.Now,
	}
}

// ===========================================
// Core Business Operations
// ===========================================

// CreateShortURL validates the request, builds the aggregate and
// persists its Created event.
//
// FLOW:
//  1. Validate URL and alias
//  2. Check alias availability (bloom, then read model)
//  3. Append Created with expectedVersion 0
//  4. Project into the read model
//  5. Register in bloom filter, warm the cache, publish
func (s *URLService) CreateShortURL(ctx context.Context, req CreateRequest) (*domain.ShortURL, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	if req.CustomAlias != "" {
		available, err := s.IsAvailable(ctx, req.CustomAlias)
		if err != nil {
			return nil, fmt.Errorf("failed to check code availability: %w", err)
		}
		if !available {
			return nil, ErrCodeTaken
		}
	}

	u, err := s.newAggregate(ctx, req)
	if err != nil {
		return nil, err
	}

	committed := u.UncommittedEvents()
	if err := s.events.SaveEvents(ctx, u.ID, committed, 0); err != nil {
		return nil, fmt.Errorf("failed to store URL: %w", err)
	}
	u.ClearUncommittedEvents()

	if err := s.urls.Save(ctx, u); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			s.compensateAliasRace(ctx, u, committed)
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("failed to project URL: %w", err)
	}

	s.filter.Add(u.ShortCode)
	s.cache.Set(ctx, u.ShortCode, u.OriginalURL, s.cacheTTL(u))
	s.publish(ctx, committed)

	s.log.Info().
		Str("short_code", u.ShortCode).
		Bool("custom_alias", u.IsCustomAlias).
		Msg("short URL created")
	return u, nil
}

// GetOriginalURL resolves a code. Cache first, then the read model.
// Codes the bloom filter has never seen are rejected without a
// store lookup. Concurrent misses for the same code share one lookup.
func (s *URLService) GetOriginalURL(ctx context.Context, code string) (string, error) {
	if url, ok := s.cache.GetOriginalURL(ctx, code); ok {
		return url, nil
	}

	if !s.filter.MightExist(code) {
		return "", ErrURLNotFound
	}

	v, err, _ := s.resolving.Do(code, func() (any, error) {
		return s.resolveFromStore(ctx, code)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RecordAccess records an access in the background. It never blocks
// the redirect and never reports failure to the caller.
func (s *URLService) RecordAccess(ctx context.Context, req AccessRequest) {
	s.goBackground(ctx, "record_access", func(ctx context.Context) {
		if err := s.RecordAccessNow(ctx, req); err != nil {
			s.log.Warn().Err(err).Str("short_code", req.ShortCode).Msg("access not recorded")
		}
	})
}

// RecordAccessNow appends an Accessed event and feeds analytics.
func (s *URLService) RecordAccessNow(ctx context.Context, req AccessRequest) error {
	var params domain.AccessParams
	params.IPAddress = req.IPAddress
	params.UserAgent = req.UserAgent
	params.Referrer = req.Referrer
	if s.enricher != nil {
		params.Location, params.Device = s.enricher.Enrich(ctx, req.IPAddress, req.UserAgent)
	}

	u, err := s.mutate(ctx, req.ShortCode, func(u *domain.ShortURL) error {
		return u.RecordAccess(params)
	})
	if err != nil {
		return err
	}

	if s.recorder != nil {
		rec := analytics.AccessRecord{
			ShortCode:   u.ShortCode,
			OriginalURL: u.OriginalURL,
			At:          s.now(),
			IPAddress:   req.IPAddress,
			Referrer:    req.Referrer,
			Device:      params.Device,
			Location:    params.Location,
		}
		if err := s.recorder.Record(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("short_code", u.ShortCode).Msg("analytics record failed")
		}
	}
	return nil
}

// GetURLStatistics replays the aggregate and returns its counters,
// plus a traffic analysis when an analyzer is configured.
func (s *URLService) GetURLStatistics(ctx context.Context, code string) (*Statistics, error) {
	u, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		ShortCode:      u.ShortCode,
		OriginalURL:    u.OriginalURL,
		Status:         u.Status,
		IsCustomAlias:  u.IsCustomAlias,
		AccessCount:    u.AccessCount,
		CreatedAt:      u.CreatedAt,
		ExpiresAt:      u.ExpiresAt,
		LastAccessedAt: u.LastAccessedAt,
		Version:        u.Version,
	}
	if s.analyzer != nil {
		p := s.analyzer.AnalyzePattern(ctx, code)
		stats.Pattern = &p
	}
	return stats, nil
}

// DisableURL takes a code out of service and evicts it from every
// cache layer. Policy violations and suspicious activity also purge
// the edge.
func (s *URLService) DisableURL(ctx context.Context, code string, reason domain.DisableReason, notes string) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: unknown disable reason %q", ErrValidation, reason)
	}

	if _, err := s.mutate(ctx, code, func(u *domain.ShortURL) error {
		return u.Disable(reason, notes)
	}); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, code, cacheReason(reason))
	s.log.Info().Str("short_code", code).Str("reason", string(reason)).Msg("short URL disabled")
	return nil
}

// IsAvailable reports whether code can still be claimed. A bloom
// miss answers without touching the read model.
func (s *URLService) IsAvailable(ctx context.Context, code string) (bool, error) {
	if !s.filter.MightExist(code) {
		return true, nil
	}
	exists, err := s.urls.ExistsByCode(ctx, code)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// ListUserURLs returns a user's URLs, newest first.
func (s *URLService) ListUserURLs(ctx context.Context, userID string, page repository.Page) ([]*domain.ShortURL, int64, error) {
	urls, total, err := s.urls.GetByUser(ctx, userID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list URLs: %w", err)
	}
	return urls, total, nil
}

// SearchURLs finds URLs whose code or target contains q.
func (s *URLService) SearchURLs(ctx context.Context, q string, page repository.Page) ([]*domain.ShortURL, int64, error) {
	urls, total, err := s.urls.Search(ctx, q, page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search URLs: %w", err)
	}
	return urls, total, nil
}

// Wait blocks until background work (access recording, expiry
// transitions) has finished.
func (s *URLService) Wait() {
	s.background.Wait()
}

// ===========================================
// Write Path
// ===========================================

// mutate loads the aggregate for code, applies op and appends the
// resulting events. A version conflict reloads and reapplies op, up
// to MaxConflictRetries times.
func (s *URLService) mutate(ctx context.Context, code string, op func(*domain.ShortURL) error) (*domain.ShortURL, error) {
	id, err := s.aggregateID(ctx, code)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= s.config.MaxConflictRetries; attempt++ {
		u, err := s.replay(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := op(u); err != nil {
			return nil, mapDomainError(err)
		}

		pending := u.UncommittedEvents()
		err = s.events.SaveEvents(ctx, id, pending, u.CommittedVersion())
		if errors.Is(err, eventstore.ErrConcurrency) {
			s.log.Debug().Str("short_code", code).Int("attempt", attempt+1).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to append events: %w", err)
		}
		u.ClearUncommittedEvents()

		if err := s.urls.Save(ctx, u); err != nil {
			s.log.Warn().Err(err).Str("short_code", code).Int("version", u.Version).Msg("read model projection failed")
		}
		s.publish(ctx, pending)
		return u, nil
	}

	return nil, ErrConflict
}

// load returns the authoritative aggregate for code.
func (s *URLService) load(ctx context.Context, code string) (*domain.ShortURL, error) {
	id, err := s.aggregateID(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.replay(ctx, id)
}

func (s *URLService) aggregateID(ctx context.Context, code string) (uuid.UUID, error) {
	row, err := s.urls.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, ErrURLNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up URL: %w", err)
	}
	return row.ID, nil
}

func (s *URLService) replay(ctx context.Context, id uuid.UUID) (*domain.ShortURL, error) {
	events, err := s.events.GetEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrURLNotFound
	}
	u, err := domain.FromEvents(events)
	if err != nil {
		return nil, fmt.Errorf("failed to replay URL: %w", err)
	}
	return u, nil
}

// newAggregate builds the aggregate. Generated codes are re-drawn if
// the read model already has them.
func (s *URLService) newAggregate(ctx context.Context, req CreateRequest) (*domain.ShortURL, error) {
	const maxAttempts = 3

	params := domain.CreateParams{
		OriginalURL: req.URL,
		UserID:      req.UserID,
		CustomAlias: req.CustomAlias,
		ExpiresAt:   req.ExpiresAt,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Metadata:    req.Metadata,
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		u, err := domain.NewShortURL(params, s.codes)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}
		if req.CustomAlias != "" {
			return u, nil
		}

		available, err := s.IsAvailable(ctx, u.ShortCode)
		if err != nil {
			return nil, fmt.Errorf("failed to check code availability: %w", err)
		}
		if available {
			return u, nil
		}
	}
	return nil, errors.New("failed to generate unique code after retries")
}

// compensateAliasRace retires an aggregate whose Created event was
// appended but whose alias another aggregate projected first.
func (s *URLService) compensateAliasRace(ctx context.Context, u *domain.ShortURL, created []domain.Event) {
	s.log.Warn().Str("short_code", u.ShortCode).Str("aggregate_id", u.ID.String()).Msg("lost custom alias race")

	if err := u.Disable(domain.ReasonAdminAction, aliasConflictNote); err != nil {
		s.log.Error().Err(err).Msg("failed to disable conflicting aggregate")
		return
	}
	disabled := u.UncommittedEvents()
	if err := s.events.SaveEvents(ctx, u.ID, disabled, u.CommittedVersion()); err != nil {
		s.log.Error().Err(err).Str("aggregate_id", u.ID.String()).Msg("failed to append compensation event")
		return
	}
	u.ClearUncommittedEvents()
	s.publish(ctx, append(created, disabled...))
}

// ===========================================
// Read Path
// ===========================================

func (s *URLService) resolveFromStore(ctx context.Context, code string) (string, error) {
	u, err := s.urls.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrURLNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve URL: %w", err)
	}

	switch u.Status {
	case domain.StatusDisabled:
		return "", ErrURLDisabled
	case domain.StatusExpired:
		return "", ErrURLExpired
	}
	if u.IsExpired(s.now()) {
		s.expireInBackground(ctx, code)
		return "", ErrURLExpired
	}

	s.cache.Set(ctx, code, u.OriginalURL, s.cacheTTL(u))
	return u.OriginalURL, nil
}

// expireInBackground moves an Active URL past its expiry to Expired.
func (s *URLService) expireInBackground(ctx context.Context, code string) {
	s.goBackground(ctx, "expire", func(ctx context.Context) {
		_, err := s.mutate(ctx, code, func(u *domain.ShortURL) error {
			if u.Status != domain.StatusActive {
				return errAlreadyTerminal
			}
			return u.Disable(domain.ReasonExpired, "expired")
		})
		if errors.Is(err, errAlreadyTerminal) {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Str("short_code", code).Msg("expiry transition failed")
			return
		}
		s.cache.Invalidate(ctx, code, cache.ReasonExpired)
	})
}

// ===========================================
// Helpers
// ===========================================

var errAlreadyTerminal = errors.New("already terminal")

// goBackground runs fn detached from the request with its own
// timeout. Panics are logged, not propagated.
func (s *URLService) goBackground(ctx context.Context, task string, fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("task", task).Msgf("panic in background task: %v", r)
			}
		}()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.RecordAccessTimeout)
		defer cancel()
		fn(bgCtx)
	}()
}

func (s *URLService) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events); err != nil {
		s.log.Warn().Err(err).Int("events", len(events)).Msg("event publish failed")
	}
}

// cacheTTL keeps cached entries from outliving the URL itself.
// Zero means the cache default.
func (s *URLService) cacheTTL(u *domain.ShortURL) time.Duration {
	if u.ExpiresAt == nil {
		return 0
	}
	remaining := u.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return time.Second
	}
	return remaining
}

func cacheReason(r domain.DisableReason) cache.Reason {
	switch r {
	case domain.ReasonPolicyViolation:
		return cache.ReasonPolicyViolation
	case domain.ReasonSuspiciousActivity:
		return cache.ReasonSuspiciousActivity
	case domain.ReasonExpired:
		return cache.ReasonExpired
	default:
		return cache.ReasonAdminAction
	}
}

func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrURLExpired):
		return ErrURLExpired
	case errors.Is(err, domain.ErrURLInactive):
		return ErrURLDisabled
	case errors.Is(err, domain.ErrInvalidInput):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return err
	}
}
