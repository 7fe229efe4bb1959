package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/orderconsole/internal/config"
	"github.com/ehr/orderconsole/internal/domain/catalog"
	"github.com/ehr/orderconsole/internal/domain/consent"
	"github.com/ehr/orderconsole/internal/domain/coverage"
	"github.com/ehr/orderconsole/internal/domain/draft"
	"github.com/ehr/orderconsole/internal/domain/order"
	"github.com/ehr/orderconsole/internal/platform/auth"
	"github.com/ehr/orderconsole/internal/platform/db"
	"github.com/ehr/orderconsole/internal/platform/metrics"
	"github.com/ehr/orderconsole/internal/platform/middleware"
	"github.com/ehr/orderconsole/internal/platform/notification"
	"github.com/ehr/orderconsole/internal/platform/signature"
	"github.com/ehr/orderconsole/internal/platform/websocket"
	"github.com/ehr/orderconsole/migrations"
)

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests are treated as admin")
	}
	rates := coverage.Rates{PublicPercent: cfg.CoveragePublicRate, PrivatePercent: cfg.CoveragePrivateRate}
	if err := rates.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid coverage rates")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database: optional, orders stay in memory without it.
	var pool *pgxpool.Pool
	ledger := order.NewMemoryLedger()
	ref := catalog.MustDefaultReference()
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		if n, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		} else if n > 0 {
			logger.Info().Int("applied", n).Msg("applied migrations")
		}

		loaded, err := catalog.LoadReference(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load catalog")
		}
		if loaded.Len() == 0 {
			if _, err := catalog.Seed(ctx, pool, catalog.DefaultItems()); err != nil {
				logger.Fatal().Err(err).Msg("failed to seed catalog")
			}
			logger.Info().Msg("seeded empty catalog with reference items")
		} else {
			ref = loaded
		}
		ledger = order.NewLedgerPG(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set: orders are kept in memory")
	}
	logger.Info().Int("items", ref.Len()).Msg("catalog loaded")

	// Signature channels
	notifier := notification.NewNotifier(
		notification.LogSender{Logger: logger},
		notification.LogSender{Logger: logger},
		nil, cfg.SignURL, logger,
	)
	signers := consent.FanOut{notifier}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = signature.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		signers = append(signers, signature.NewChannel(redisClient, logger))
		logger.Info().Msg("redis signature channel enabled")
	}

	// Draft sessions
	hub := websocket.NewHub(logger)
	orders := order.NewService(ledger)
	dosing := order.DefaultDosingPolicy
	dosing.DefaultLine = cfg.DefaultDosingLine

	mgr := draft.NewManager(draft.Deps{
		Catalog:     ref,
		Orders:      orders,
		Signer:      signers,
		Adjudicator: coverage.NewRateAdjudicator(rates, cfg.CoverageDelay),
		Events:      hub,
		Logger:      logger,
	}, draft.Config{
		AnalysisDelay:  cfg.AnalysisDelay,
		ConsentTimeout: cfg.ConsentTimeout,
		IdleTTL:        cfg.DraftIdleTTL,
		Dosing:         dosing,
	})
	defer mgr.Close()

	if redisClient != nil {
		ch := signature.NewChannel(redisClient, logger)
		go func() {
			err := ch.Listen(ctx, func(_ context.Context, ev signature.SignedEvent) error {
				_, err := mgr.SignalSigned(ev.DraftID, ev.ItemID, ev.RequestID)
				if errors.Is(err, draft.ErrNotFound) {
					logger.Debug().Str("draft_id", ev.DraftID).Msg("signed event for closed draft ignored")
					return nil
				}
				return err
			})
			if err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("signature listener stopped")
			}
		}()
	}

	// Rate limiting
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         int64(cfg.RateLimitBurst),
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	limiter := middleware.NewRateLimiter(rateLimitCfg)

	sweepEvery := cfg.DraftSweepInterval
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	scheduler, err := mgr.StartSweeper(sweepEvery, func() {
		limiter.Prune()
		metrics.RateLimiterBuckets.Set(float64(limiter.Len()))
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start sweeper")
	}
	defer scheduler.Stop()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	}
	if cfg.AuthSigningKey != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper: func(c echo.Context) bool {
				// dev mode already authenticated token-less requests
				if cfg.IsDev() && c.Request().Header.Get("Authorization") == "" {
					return true
				}
				return auth.AuthSkipper(c)
			},
		}))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":        "ok",
			"drafts_active": mgr.Active(),
			"ws_clients":    hub.ClientCount(),
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	} else {
		e.GET("/health/db", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "disabled"})
		})
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(limiter.Middleware())

	catalog.NewHandler(ref).RegisterRoutes(apiV1)
	draft.NewHandler(mgr).RegisterRoutes(apiV1)
	order.NewHandler(orders).RegisterRoutes(apiV1)
	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting order console")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
