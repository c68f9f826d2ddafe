package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-quant/internal/api"
	"github.com/irfndi/celebrum-quant/internal/api/handlers"
	"github.com/irfndi/celebrum-quant/internal/cache"
	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/database"
	"github.com/irfndi/celebrum-quant/internal/logging"
	"github.com/irfndi/celebrum-quant/internal/middleware"
	"github.com/irfndi/celebrum-quant/internal/services"
	"github.com/irfndi/celebrum-quant/internal/telemetry"
)

const cacheStatsInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		SampleRate:     1.0,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	logger, shutdownLogs := newLogger(cfg)
	defer shutdownLogs()
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel)
	logger.WithService(cfg.Telemetry.ServiceName).Info("configuration loaded",
		"environment", cfg.Environment, "telemetry", cfg.Telemetry.Enabled, "alerts", cfg.Alerts.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()
	redisClient.Client.AddHook(database.NewRedisTracingHook(telemetry.GetDatabaseTracer()))

	pool := database.NewTracedDB(db.Pool, logrusLogger)
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}

	deps, reportCache, err := buildDependencies(cfg, pool, redisClient.Client, db, redisClient, logger, logrusLogger)
	if err != nil {
		return err
	}
	go reportCacheStats(ctx, reportCache, cacheStatsInterval)

	srv := newHTTPServer(cfg.Server.Port, api.NewRouter(deps))
	serveErr := make(chan error, 1)
	go func() {
		logger.LogStartup(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.LogShutdown(cfg.Telemetry.ServiceName, "signal received")
	}

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logrusLogger.Info("Server exited gracefully")
	return nil
}

// newLogger returns the OTLP-backed logger when enabled, otherwise JSON on stdout.
func newLogger(cfg *config.Config) (logging.Logger, func()) {
	if !cfg.Telemetry.OTLPLogs {
		return logging.NewStandardLogger(cfg.LogLevel), func() {}
	}
	logger, otlpLogger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        true,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		LogLevel:       cfg.Telemetry.LogLevel,
	})
	return logger, func() {
		if otlpLogger == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otlpLogger.Shutdown(ctx)
	}
}

// buildDependencies wires repositories, cache, services and auth for the router.
func buildDependencies(
	cfg *config.Config,
	pool database.DatabasePool,
	redisClient *redis.Client,
	dbHealth, redisHealth handlers.HealthChecker,
	logger logging.Logger,
	logrusLogger *logrus.Logger,
) (api.Dependencies, *cache.RedisAnalysisCache, error) {
	prices := database.NewPriceRepository(pool, database.DefaultAlignmentResolution)
	reports := database.NewReportRepository(pool)
	states := database.NewFilterStateRepository(pool)
	reportCache := cache.NewRedisAnalysisCache(redisClient, cfg.Cointegration.GetCacheTTL(), logrusLogger)

	tracer := telemetry.NewBusinessTracer()
	notifier := services.NewNotificationService(cfg.Telegram, cfg.Alerts, tracer, logger)
	cointegration := services.NewCointegrationService(prices, reports, reportCache, cfg.Cointegration, tracer, logger)
	hedge := services.NewHedgeRatioService(prices, states, notifier, cfg.HedgeRatio, tracer, logger)

	admin, err := middleware.NewAdminMiddleware(cfg.Security.AdminAPIKey, cfg.Security.BcryptCost)
	if err != nil {
		return api.Dependencies{}, nil, fmt.Errorf("failed to initialize admin auth: %w", err)
	}
	if cfg.Security.AdminAPIKey == "" {
		logger.WithComponent("server").Warn("ADMIN_API_KEY not set, admin endpoints are disabled")
	}

	return api.Dependencies{
		ServiceName:   cfg.Telemetry.ServiceName,
		Version:       cfg.Telemetry.ServiceVersion,
		DB:            dbHealth,
		Redis:         redisHealth,
		Cointegration: cointegration,
		AnalysisCache: reportCache,
		HedgeRatio:    hedge,
		Auth:          middleware.NewAuthMiddleware(cfg.Security.JWTSecret),
		Admin:         admin,
		Logger:        logger,
	}, reportCache, nil
}

// newHTTPServer creates the HTTP server with security timeouts.
func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// reportCacheStats logs cache statistics until ctx is cancelled.
func reportCacheStats(ctx context.Context, reportCache *cache.RedisAnalysisCache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reportCache.LogStats()
		}
	}
}
