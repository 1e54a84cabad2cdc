package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/storelink/internal/handler"
	"github.com/aryan0dhankhar/storelink/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/storelink/internal/infrastructure/platform"
	"github.com/aryan0dhankhar/storelink/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/storelink/internal/oauth"
	"github.com/aryan0dhankhar/storelink/internal/observability/tracing"
	"github.com/aryan0dhankhar/storelink/internal/repository"
	"github.com/aryan0dhankhar/storelink/internal/security"
	"github.com/aryan0dhankhar/storelink/internal/security/audit"
	"github.com/aryan0dhankhar/storelink/internal/security/auth"
	"github.com/aryan0dhankhar/storelink/internal/security/middleware"
	"github.com/aryan0dhankhar/storelink/internal/security/ratelimit"
	"github.com/aryan0dhankhar/storelink/internal/security/session"
	"github.com/aryan0dhankhar/storelink/internal/service"
	"github.com/aryan0dhankhar/storelink/pkg/cache"
	"github.com/aryan0dhankhar/storelink/pkg/config"
	"github.com/aryan0dhankhar/storelink/pkg/database"
)

const serviceName = "storelink"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting storelink server", slog.String("environment", cfg.Environment))

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, log, serviceName, cfg.Environment, cfg.TracingEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 4. Database and schema
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		Driver:     cfg.DatabaseDriver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := database.Apply(ctx, pool.GetDB()); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	checks := map[string]handler.Checker{"database": pool.Health}

	// 5. Purchase history cache backend
	var kv service.KeyValueCache
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		kv = redisClient
		checks["redis"] = redisClient.Ping
	} else {
		log.Info("REDIS_URL not set, using in-process cache")
		kv = cache.New()
	}

	// 6. Upstream clients
	apis := platform.NewFactory(platform.Config{
		BaseURL:  cfg.APIEndpoint,
		ClientID: cfg.ClientID,
		Timeout:  cfg.HTTPTimeout(),
	}, log)
	exchanger := oauth.NewClient(oauth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		LoginURL:     cfg.LoginURL,
		Timeout:      cfg.HTTPTimeout(),
	})

	// 7. Services
	tenancy := repository.NewSQLTenancyStore(pool.GetDB(), log)
	purchases := service.NewPurchaseHistoryCache(kv, apis, cfg.PurchaseCacheTTL(), log)
	lifecycle := service.NewLifecycleService(
		tenancy,
		exchanger,
		security.NewAuthorizationService(log),
		audit.NewLogger(log),
		purchases,
		log,
	)

	// 8. Handlers
	sessions := session.NewManager(cfg.SessionSecret, cfg.SecureCookies())
	customerTokens := auth.NewTokenManager(cfg.ClientSecret, "")
	limiter := ratelimit.NewLimiter(cfg.StorefrontRateLimit, time.Minute)
	defer limiter.Stop()

	mux := handler.NewMux(handler.Routes{
		Lifecycle:         handler.NewLifecycleHandler(lifecycle, exchanger, sessions, cfg.ClientSecret, log),
		Home:              handler.NewHomeHandler(lifecycle, apis, sessions, cfg.APIEndpoint, cfg.ClientID, log),
		Storefront:        handler.NewStorefrontHandler(customerTokens, tenancy, purchases, log),
		Health:            handler.NewHealthHandler(checks, log),
		StorefrontLimiter: limiter,
		Logger:            log,
	})

	// Chain middleware: request ID -> recover -> tracing -> metrics/mux
	rootHandler := middleware.RequestID(
		middleware.Recover(log)(
			otelhttp.NewHandler(mux, serviceName),
		),
	)

	// 9. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("database", cfg.DatabaseDriver),
		slog.Bool("redis", cfg.RedisURL != ""),
		slog.Int("storefront_rate_limit", cfg.StorefrontRateLimit),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
	return nil
}
