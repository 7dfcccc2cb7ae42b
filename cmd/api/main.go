// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	redis_rate "github.com/go-redis/redis_rate/v10"

	"github.com/carterperez-dev/quotachat/internal/admin"
	"github.com/carterperez-dev/quotachat/internal/auth"
	"github.com/carterperez-dev/quotachat/internal/billing"
	"github.com/carterperez-dev/quotachat/internal/chat"
	"github.com/carterperez-dev/quotachat/internal/completion"
	"github.com/carterperez-dev/quotachat/internal/config"
	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/health"
	"github.com/carterperez-dev/quotachat/internal/middleware"
	"github.com/carterperez-dev/quotachat/internal/migrations"
	"github.com/carterperez-dev/quotachat/internal/server"
	"github.com/carterperez-dev/quotachat/internal/usage"
	"github.com/carterperez-dev/quotachat/internal/user"
)

const (
	drainDelay = 5 * time.Second

	webhookPath = "/webhook/lemonsqueezy"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	telemetry, err := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	} else {
		logger.Info("tracer initialized",
			"endpoint", cfg.Otel.Endpoint,
			"exporting", telemetry.Exporting,
		)
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if err := migrations.Up(ctx, db.DB.DB); err != nil {
		_ = db.Close() //nolint:errcheck // startup failure
		return err
	}
	logger.Info("database migrations applied")

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close() //nolint:errcheck // startup failure
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	denylist := auth.NewDenylist(redis.Client)
	tokens, err := auth.NewTokenIssuer(cfg.JWT, denylist)
	if err != nil {
		return err
	}
	logger.Info("token issuer initialized",
		"algorithm", "ES256",
		"key_id", tokens.KeyID(),
	)

	completionClient := completion.NewClient(cfg.Completion, nil)
	billingClient := billing.NewClient(cfg.Billing, nil)

	if !completionClient.Configured() {
		logger.Warn("completion gateway not configured, chat will answer 503")
	}
	if !cfg.Billing.CustomerAPIConfigured() {
		logger.Warn("billing customer API not configured, signup will fail")
	}
	if cfg.Billing.WebhookSecret == "" {
		logger.Warn("billing webhook secret not set, webhooks will answer 500")
	}

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo)
	userHandler := user.NewHandler(userSvc)

	authSvc := auth.NewService(auth.ServiceConfig{
		Sessions:  auth.NewSessionStore(db.DB),
		Tokens:    tokens,
		Users:     userSvc,
		Customers: billingClient,
		Denylist:  denylist,
	})
	authHandler := auth.NewHandler(authSvc)

	reconciler := billing.NewReconciler(
		billing.NewVariants(
			cfg.Billing.StandardVariantID,
			cfg.Billing.ProVariantID,
		),
		userRepo,
		core.SystemClock(),
		logger,
	)
	webhookHandler := billing.NewWebhookHandler(
		cfg.Billing.WebhookSecret,
		reconciler,
		logger,
	)

	chatSvc := chat.NewService(chat.ServiceConfig{
		Store:    userRepo,
		Locker:   usage.NewRedisLocker(redis.Client, cfg.Quota.LockTTL),
		Gateway:  completionClient,
		Checkout: billingClient,
		Limits: usage.Limits{
			FreeHourly:      cfg.Quota.FreeHourlyLimit,
			StandardMonthly: cfg.Quota.StandardMonthlyLimit,
		},
		LockWait: cfg.Quota.LockWait,
		Clock:    core.SystemClock(),
		Logger:   logger,
	})
	chatHandler := chat.NewHandler(chatSvc)

	healthHandler := health.NewHandler(
		health.Check{Name: "database", Checker: db, Critical: true},
		health.Check{Name: "redis", Checker: redis, Critical: true},
		health.Check{Name: "completion", Checker: completionClient.Outbound()},
		health.Check{Name: "billing", Checker: billingClient.Outbound()},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		PlanCounts: userSvc.PlanCounts,
		Upstreams: []admin.Upstream{
			completionClient.Outbound(),
			billingClient.Outbound(),
		},
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: redis_rate.Limit{
				Rate:   cfg.RateLimit.Requests,
				Burst:  cfg.RateLimit.Burst,
				Period: cfg.RateLimit.Window,
			},
			Prefix:   "global:",
			FailOpen: true,
			Skip:     middleware.SkipPaths(webhookPath, "/healthz", "/livez", "/readyz"),
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)
	webhookHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", tokens.JWKSHandler())

	authenticator := middleware.Authenticator(tokens)
	adminOnly := middleware.RequireAdmin

	signupLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit:    redis_rate.Limit{Rate: 10, Burst: 5, Period: time.Hour},
		Prefix:   "signup:",
		KeyFunc:  middleware.KeyByIP,
		FailOpen: true,
	}).Handler

	messageLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit:    redis_rate.Limit{Rate: 20, Burst: 5, Period: time.Minute},
		Prefix:   "chat:",
		KeyFunc:  middleware.KeyByUserAndPath,
		FailOpen: true,
	}).Handler

	router.Route("/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator, signupLimiter)
		chatHandler.RegisterRoutes(r, authenticator, messageLimiter)

		userHandler.RegisterRoutes(r, authenticator, adminOnly)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
