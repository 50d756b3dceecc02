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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-assistant/internal/api/router"
	"github.com/wolfman30/clinic-assistant/internal/app/bootstrap"
	"github.com/wolfman30/clinic-assistant/internal/assistant"
	"github.com/wolfman30/clinic-assistant/internal/availability"
	"github.com/wolfman30/clinic-assistant/internal/clinic"
	appconfig "github.com/wolfman30/clinic-assistant/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-assistant/internal/notify"
	"github.com/wolfman30/clinic-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

const limiterSweepInterval = time.Minute

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	app, err := buildApp(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	stopSweeper := make(chan struct{})
	go app.limiter.RunSweeper(limiterSweepInterval, stopSweeper)
	defer close(stopSweeper)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

// app holds the wired HTTP handler and everything that must be released on
// shutdown.
type app struct {
	handler http.Handler
	limiter *httpmiddleware.RateLimiter
	gateway *availability.Gateway
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg *prometheus.Registry) (*app, error) {
	out := &app{}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cacheMetrics := metrics.NewCacheMetrics(reg)
	assistantMetrics := metrics.NewAssistantMetrics(reg)

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		out.closers = append(out.closers, pool.Close)
	}
	repo := bootstrap.BuildClinicRepository(pool, logger)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		out.closers = append(out.closers, func() { _ = redisClient.Close() })
	}

	notifier := notify.NewAppointmentNotifier(bootstrap.BuildEmailSender(cfg, logger), logger)
	svc := clinic.NewService(repo, notifier, logger)

	store := bootstrap.BuildCacheStore(redisClient, cfg, cacheMetrics, logger)
	gateway := availability.NewGateway(svc, store, availability.Options{
		TTL:     cfg.CacheScheduleTTL,
		Logger:  logger,
		Metrics: cacheMetrics,
	})
	out.gateway = gateway

	sessions, err := bootstrap.BuildSessionStore(redisClient, cfg, logger)
	if err != nil {
		out.Close()
		return nil, err
	}
	bot := assistant.New(gateway, assistant.Options{
		Sessions:       sessions,
		SessionTimeout: cfg.SessionTimeout,
		Location:       cfg.Location(),
		Logger:         logger,
		Metrics:        assistantMetrics,
	})

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; cache clear endpoint will reject every request")
	}

	out.limiter = httpmiddleware.NewRateLimiter(cfg.AssistantRatePerSecond, cfg.AssistantRateBurst)
	out.handler = router.New(&router.Config{
		Logger:             logger,
		ClinicHandler:      clinic.NewHandler(gateway, logger),
		CacheHandler:       availability.NewHandler(gateway, logger),
		AssistantHandler:   assistant.NewHandler(bot, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AssistantLimiter:   out.limiter,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	logger.Info("application wired",
		"database", pool != nil,
		"redis", redisClient != nil,
		"cache_enabled", store.Enabled(),
		"session_backend", cfg.SessionBackend,
	)
	return out, nil
}
