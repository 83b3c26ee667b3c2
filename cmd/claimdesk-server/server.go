package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/claimdesk/claimdesk/internal/config"
	"github.com/claimdesk/claimdesk/internal/domain/claims"
	"github.com/claimdesk/claimdesk/internal/domain/organizations"
	"github.com/claimdesk/claimdesk/internal/domain/policies"
	"github.com/claimdesk/claimdesk/internal/domain/users"
	"github.com/claimdesk/claimdesk/internal/intelligence/analyze"
	"github.com/claimdesk/claimdesk/internal/intelligence/extract"
	"github.com/claimdesk/claimdesk/internal/intelligence/llm"
	"github.com/claimdesk/claimdesk/internal/intelligence/suggest"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
	"github.com/claimdesk/claimdesk/internal/platform/cache"
	"github.com/claimdesk/claimdesk/internal/platform/db"
	"github.com/claimdesk/claimdesk/internal/platform/events"
	"github.com/claimdesk/claimdesk/internal/platform/metrics"
	"github.com/claimdesk/claimdesk/internal/platform/middleware"
)

const (
	requestTimeout = 30 * time.Second
	analyzeTimeout = 3 * time.Minute
	jsonBodyLimit  = 1 << 20
)

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open document storage")
	}
	logger.Info().Str("backend", cfg.StorageBackend).Msg("document storage ready")

	resultCache, locker, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	gen := newGenerator(ctx, cfg, logger)
	if closer, ok := gen.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	extractor := extract.New(blobs, gen, logger)
	synth := suggest.New(gen, logger,
		suggest.WithChunkSize(cfg.SuggestChunkSize),
		suggest.WithCache(resultCache, cfg.SuggestCacheTTL),
		suggest.WithLocker(locker),
		suggest.WithMetrics(m),
		suggest.WithExtractor(extractor),
	)
	analyzer := analyze.New(gen, blobs, logger,
		analyze.WithRetry(analyze.RetryConfig{MaxAttempts: cfg.AnalyzeMaxAttempts, BaseDelay: cfg.AnalyzeBaseDelay}),
		analyze.WithMetrics(m),
	)

	signingKey, generated, err := resolveSigningKey(cfg.JWTSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, using an ephemeral key; tokens will not survive a restart")
	}
	issuer := auth.NewIssuer(signingKey, cfg.JWTIssuer, cfg.JWTTTL)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)
	e.Validator = middleware.NewRequestValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID",
			auth.DevRoleHeader, auth.DevHospitalHeader, auth.DevInsurerHeader, auth.DevActorHeader},
	}))
	e.Use(middleware.BodyLimit(jsonBodyLimit, cfg.MaxUploadBytes))
	e.Use(middleware.RequestTimeout(requestTimeout, analyzeTimeout, isLongRequest))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: signingKey,
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API groups. Pooled connections already resolve tables in DB_SCHEMA.
	apiV1 := e.Group("/api/v1")

	// Generative routes get a per-actor token bucket.
	aiLimit := middleware.RateLimit(middleware.DefaultRateLimitConfig())

	// Accounts
	userSvc := users.NewService(users.NewUserRepo(pool), issuer)
	users.NewHandler(userSvc).RegisterRoutes(apiV1)

	// Organizations and network
	orgSvc := organizations.NewService(
		organizations.NewHospitalRepo(pool),
		organizations.NewInsurerRepo(pool),
		organizations.NewNetworkRepo(pool),
		userSvc,
	)
	orgSvc.SetTxBeginner(pool)
	organizations.NewHandler(orgSvc).RegisterRoutes(apiV1)

	// Policies
	policySvc := policies.NewService(policies.NewPolicyRepo(pool), orgSvc, blobs, synth, extractor)
	policies.NewHandler(policySvc, cfg.MaxUploadBytes).RegisterRoutes(apiV1, aiLimit)

	// Claims
	claimSvc := claims.NewService(claims.NewClaimRepo(pool), policySvc, orgSvc, blobs, analyzer,
		claims.WithPublisher(publisher),
		claims.WithMetrics(m),
		claims.WithExtractor(extractor),
	)
	claims.NewHandler(claimSvc, cfg.MaxUploadBytes).RegisterRoutes(apiV1, aiLimit)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"version":        "0.1.0",
			"ai_configured":  analyzer.Configured(),
			"storage":        cfg.StorageBackend,
			"events_backend": publisherKind(cfg),
		})
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("ai", analyzer.Configured()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// isLongRequest selects the analysis route, which may retry the generative
// backend with exponential backoff.
func isLongRequest(c echo.Context) bool {
	return c.Path() == claims.AnalyzePath
}

// resolveSigningKey returns the configured token key, or a random 32-byte key
// when none is set. The second return value is true when a key was generated.
func resolveSigningKey(value string) ([]byte, bool, error) {
	if value != "" {
		return []byte(value), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		return blobstore.NewMinIOStore(ctx, blobstore.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
	case "memory", "":
		return blobstore.NewInMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newCache connects to Redis when REDIS_URL is set. An unreachable Redis is
// not fatal: suggestion caching falls back to process memory.
func newCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Cache, cache.Locker, func()) {
	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err == nil {
			logger.Info().Msg("connected to redis")
			return cache.NewRedisCache(client, "claimdesk:"), cache.NewRedisLocker(client), func() { client.Close() }
		}
		logger.Warn().Err(err).Msg("redis unavailable, using in-process cache")
	}
	return cache.NewMemoryCache(), cache.NewMemoryLocker(), func() {}
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) > 0 {
		p, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err == nil {
			logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing claim events to kafka")
			return p
		}
		logger.Warn().Err(err).Msg("kafka publisher unavailable, logging claim events")
	}
	return events.NewLogPublisher(logger)
}

func publisherKind(cfg *config.Config) string {
	if len(cfg.KafkaBrokers) > 0 {
		return "kafka"
	}
	return "log"
}

// newGenerator returns nil when the selected provider has no credential, which
// puts analysis into degraded mode and suggestions onto the fallback list.
func newGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) llm.Generator {
	gen, err := llm.New(ctx, llm.Config{
		Provider:    cfg.GenAIProvider,
		OpenAIKey:   cfg.OpenAIAPIKey,
		OpenAIModel: cfg.OpenAIModel,
		GeminiKey:   cfg.GeminiAPIKey,
		GeminiModel: cfg.GeminiModel,
	}, logger)
	if errors.Is(err, llm.ErrNotConfigured) {
		logger.Warn().Str("provider", cfg.GenAIProvider).Msg("no generative API key configured, AI features degraded")
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Str("provider", cfg.GenAIProvider).Msg("generative backend unavailable, AI features degraded")
		return nil
	}
	return gen
}
