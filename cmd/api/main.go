package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	httpAdapter "github.com/lorrc/workspace-realtime/internal/adapters/primary/http"
	mw "github.com/lorrc/workspace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/workspace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/workspace-realtime/internal/adapters/secondary/postgres"
	redisAdapter "github.com/lorrc/workspace-realtime/internal/adapters/secondary/redis"
	"github.com/lorrc/workspace-realtime/internal/auth"
	"github.com/lorrc/workspace-realtime/internal/config"
	"github.com/lorrc/workspace-realtime/internal/core/services"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/clock"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/logging"
)

const startupWait = 30 * time.Second

func main() {
	runMigrations := flag.Bool("migrate", false, "apply database migrations before serving")
	migrationsDir := flag.String("migrations", "migrations", "directory holding the migration files")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Identity directory (Postgres)
	if *runMigrations {
		if err := postgres.Migrate(cfg.Database.URL, *migrationsDir); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	pool, err := postgres.Connect(ctx, cfg.Database, startupWait, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connection established")

	directory := postgres.NewUserDirectory(pool)

	// 4. Presence mirror (optional Redis)
	var mirror *redisAdapter.PresenceMirror
	if cfg.Redis.URL != "" {
		rdb, err := redisAdapter.Open(ctx, cfg.Redis, startupWait, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		mirror = redisAdapter.NewPresenceMirror(rdb, redisAdapter.MirrorOptions{
			KeyPrefix:    cfg.Realtime.PresenceKeyPrefix,
			QueueSize:    cfg.Realtime.HubQueueSize,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
		defer mirror.Close()

		// Presence from a previous process is stale: nobody is connected yet.
		cleared, err := mirror.Reset(ctx)
		if err != nil {
			logger.Warn("failed to reset presence mirror", "error", err)
		} else {
			logger.Info("presence mirror ready", "stale_workspaces", cleared)
		}
	}

	// 5. Realtime core
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	identities := services.NewIdentityService(tokenManager, directory, logger)

	hubOpts := websocket.HubOptions{
		QueueSize:    cfg.Realtime.HubQueueSize,
		TypingWindow: cfg.Realtime.TypingWindow,
	}
	if mirror != nil {
		hubOpts.Mirror = mirror
	}
	hub := websocket.NewHub(clock.System{}, hubOpts, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	// 6. Rate Limiters
	var generalRateLimiter *mw.RateLimiter
	var publishRateLimiter *mw.RateLimitByKey
	if cfg.RateLimit.Enabled {
		limits := mw.DefaultRateLimiterConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.BurstSize = cfg.RateLimit.BurstSize
		generalRateLimiter = mw.NewRateLimiter(limits)
		defer generalRateLimiter.Stop()

		publishRateLimiter = mw.NewRateLimitByKey(cfg.RateLimit.PublishRPS, cfg.RateLimit.PublishBurst)
		defer publishRateLimiter.Stop()
	}

	// 7. Handlers (Primary Adapters)
	errorHandler := httpAdapter.NewErrorHandler(logger)
	eventsHandler := httpAdapter.NewEventsHandler(hub, errorHandler, logger)
	presenceHandler := httpAdapter.NewPresenceHandler(hub, hub, errorHandler, logger)
	if mirror != nil {
		presenceHandler.WithMirror(mirror)
	}
	wsHandler := httpAdapter.NewWebSocketHandler(hub, identities, cfg, logger)

	checkers := map[string]httpAdapter.HealthChecker{
		"database": pool,
		"hub":      hub,
	}
	if mirror != nil {
		checkers["redis"] = mirror
	}
	healthHandler := httpAdapter.NewHealthHandler(cfg.App.Version, checkers)

	// 8. Setup Router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(corsOptions(cfg)))

	healthHandler.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		// Authentication is optional at the handshake and handled inside.
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			if generalRateLimiter != nil {
				r.Use(generalRateLimiter.Middleware)
			}
			r.Use(mw.JWTMiddleware(tokenManager))
			r.Route("/workspaces", presenceHandler.RegisterRoutes)
			r.Get("/realtime/stats", presenceHandler.HandleStats)
		})

		// The CRUD layer publishes at a much higher rate than browsers poll.
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager))
			if publishRateLimiter != nil {
				r.Use(publishRateLimiter.Middleware)
			}
			r.Route("/events", eventsHandler.RegisterRoutes)
		})
	})

	// 9. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	stopHub()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("hub did not stop before the shutdown deadline")
	}

	logger.Info("server shutdown complete")
}

func corsOptions(cfg *config.Config) cors.Options {
	origins := cfg.WebSocket.AllowedOrigins
	if len(origins) == 0 && cfg.IsDevelopment() {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.RequestIDHeader},
		ExposedHeaders:   []string{mw.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}
}
