// ===========================================
// URL Shortener - Main Entry Point
// ===========================================
// RESPONSIBILITY:
// 1. Load configuration, build the logger
// 2. Migrate and connect (Postgres, Redis, optional NATS)
// 3. Wire event store, read model, bloom filter, cache, analytics
// 4. Start the warming loop and the HTTP server
// 5. Shut down in reverse order
//
// DESIGN PRINCIPLE: "Fail Fast at Startup"
// If any critical dependency fails, crash immediately.
// NATS is the exception: without it events are simply not published
// and edge purges become no-ops.
// ===========================================

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/bloom"
	"github.com/thromel/URLShortener-sub000/internal/cache"
	"github.com/thromel/URLShortener-sub000/internal/config"
	"github.com/thromel/URLShortener-sub000/internal/database"
	"github.com/thromel/URLShortener-sub000/internal/enrich"
	"github.com/thromel/URLShortener-sub000/internal/eventstore"
	"github.com/thromel/URLShortener-sub000/internal/handler"
	"github.com/thromel/URLShortener-sub000/internal/idgen"
	"github.com/thromel/URLShortener-sub000/internal/logger"
	"github.com/thromel/URLShortener-sub000/internal/messaging"
	"github.com/thromel/URLShortener-sub000/internal/middleware"
	"github.com/thromel/URLShortener-sub000/internal/repository"
	"github.com/thromel/URLShortener-sub000/internal/service"
	"github.com/thromel/URLShortener-sub000/internal/warming"
)

// Version is set at build time using ldflags.
// go build -ldflags "-X main.Version=1.0.0"
var Version = "dev"

func main() {
	// Silently ignored if .env doesn't exist (production).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.NewWithWriter(config.LogConfig{Level: "info"}, os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Log)
	log.Info().Str("version", Version).Str("port", cfg.Server.Port).Msg("starting URL shortener")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// If we can't connect within 30 seconds, something is wrong.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ===========================================
	// Storage
	// ===========================================
	if cfg.Database.AutoMigrate {
		if err := migrate(cfg.Database.URL, log); err != nil {
			return err
		}
	}

	postgres, err := database.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer postgres.Close()
	log.Info().Msg("postgres connected")

	redis, err := database.NewRedisDB(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()
	log.Info().Msg("redis connected")

	checks := map[string]handler.Checker{"postgres": postgres, "redis": redis}

	// ===========================================
	// Messaging (optional)
	// ===========================================
	var publisher messaging.EventPublisher = messaging.NoopPublisher{}
	var edge cache.EdgeInvalidator = cache.NoopEdge{}
	if cfg.NATS.URL != "" {
		bus, err := messaging.Connect(cfg.NATS, log)
		if err != nil {
			return err
		}
		defer bus.Close()
		publisher = bus
		edge = messaging.NewEdgePurger(bus.Conn(), cfg.NATS.EdgeSubject)
		checks["nats"] = bus
		log.Info().Msg("nats connected")
	}

	// ===========================================
	// Core
	// ===========================================
	events := eventstore.NewPostgresStore(postgres)
	urls := repository.NewPostgresURLRepository(postgres)

	filter, err := bloom.New(cfg.Bloom.ExpectedItems, cfg.Bloom.FalsePositiveRate)
	if err != nil {
		return err
	}
	loaded, err := filter.InitializeFrom(ctx, urls.ForEachCode)
	if err != nil {
		return err
	}
	log.Info().Int("codes", loaded).Msg("bloom filter initialized")

	hierarchy := cache.NewHierarchical(
		cache.NewLocalLayer(cfg.Cache.LocalTTL, cfg.Cache.LocalCleanup),
		cache.NewRedisLayer(redis, cfg.Cache.KeyPrefix),
		edge,
		cache.Options{
			LocalTTL:       cfg.Cache.LocalTTL,
			DistributedTTL: cfg.Cache.DistributedTTL,
			LayerTimeout:   cfg.Cache.LayerTimeout,
			EdgeEnabled:    cfg.Cache.EdgeInvalidates,
		},
		log,
	)

	accessStore := analytics.NewRedisStore(redis, cfg.Analytics.BucketRetain)
	analyzer := analytics.NewAnalyzer(accessStore, analytics.AnalyzerConfig{
		Window:         cfg.Analytics.AnalysisWindow,
		TrendingWindow: cfg.Analytics.TrendingWindow,
		Intervals: analytics.WarmingIntervals{
			Hot:        cfg.Warming.HotInterval,
			Warm:       cfg.Warming.WarmInterval,
			Cold:       cfg.Warming.ColdInterval,
			DefaultTTL: cfg.Warming.DefaultTTL,
		},
	}, log)

	codes, err := idgen.New(cfg.Shortener.NodeID)
	if err != nil {
		return err
	}

	urlService := service.NewURLService(service.Deps{
		Events:    events,
		URLs:      urls,
		Filter:    filter,
		Cache:     hierarchy,
		Recorder:  accessStore,
		Analyzer:  analyzer,
		Enricher:  enrich.NewEnricher(enrich.NetworkResolver{}, log),
		Publisher: publisher,
		Codes:     codes,
	}, cfg.Shortener, log)

	// ===========================================
	// Background Jobs
	// ===========================================
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var warmingStatus handler.WarmingStatus
	warmingDone := make(chan struct{})
	if cfg.Warming.Enabled {
		warmer := warming.New(analyzer, accessStore, hierarchy, urls, warming.Options{
			Tick:             cfg.Warming.Tick,
			RefreshInterval:  cfg.Warming.RefreshInterval,
			MaxURLs:          cfg.Warming.MaxURLs,
			TrendingWindow:   cfg.Analytics.TrendingWindow,
			IterationTimeout: cfg.Warming.IterationTimeout,
		}, log)
		warmingStatus = warmer
		go func() {
			defer close(warmingDone)
			warmer.Run(bgCtx)
		}()
	} else {
		close(warmingDone)
	}

	// ===========================================
	// HTTP
	// ===========================================
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	urlHandler := handler.NewURLHandler(urlService, cfg.Shortener.BaseURL, log)
	healthHandler := handler.NewHealthHandler(Version, checks)
	internalHandler := handler.NewInternalHandler(warmingStatus, filter, hierarchy)
	rateLimiter := middleware.NewRateLimiter(redis, cfg.RateLimit.RequestsPerMinute, log)

	router := gin.New()

	// Order matters! Middleware runs in order of addition.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/live", healthHandler.Live)

	// The redirect is not rate limited: the cache and bloom filter
	// absorb read floods, and a limit here would break popular links.
	router.GET("/:shortCode", urlHandler.Redirect)

	api := router.Group("/api")
	{
		api.POST("/shorten", rateLimiter.Middleware(), urlHandler.Shorten)
		api.GET("/stats/:shortCode", urlHandler.GetStats)
		api.GET("/availability/:shortCode", urlHandler.Availability)
		api.POST("/urls/:shortCode/disable", rateLimiter.Middleware(), urlHandler.Disable)
		api.GET("/urls", urlHandler.Search)
		api.GET("/users/:userID/urls", urlHandler.ListUserURLs)

		api.GET("/internal/warming", internalHandler.Warming)
		api.GET("/internal/bloom", internalHandler.Bloom)
		api.GET("/internal/cache", internalHandler.Cache)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ===========================================
	// Graceful Shutdown
	// ===========================================
	// 1. Stop accepting requests, drain in-flight ones
	// 2. Stop warming
	// 3. Wait for access recording still in flight
	// 4. Deferred closes: NATS (drain), Redis, Postgres
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	bgCancel()
	<-warmingDone

	recorded := make(chan struct{})
	go func() {
		urlService.Wait()
		close(recorded)
	}()
	select {
	case <-recorded:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gave up waiting for background access recording")
	}
	return nil
}

func migrate(databaseURL string, log zerolog.Logger) error {
	m, err := database.NewMigrator(databaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
