package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-assistant/internal/assistant"
	"github.com/wolfman30/clinic-assistant/internal/cache"
	"github.com/wolfman30/clinic-assistant/internal/clinic"
	appconfig "github.com/wolfman30/clinic-assistant/internal/config"
	"github.com/wolfman30/clinic-assistant/internal/notify"
	"github.com/wolfman30/clinic-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

const pingTimeout = 3 * time.Second

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildCacheStore returns the schedule cache backend. A missing client or a
// disabled cache yields the no-op store; the app keeps serving from the
// source of truth either way.
func BuildCacheStore(redisClient *redis.Client, cfg *appconfig.Config, cacheMetrics *metrics.CacheMetrics, logger *logging.Logger) cache.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || !cfg.CacheEnabled {
		logger.Info("schedule cache disabled")
		return cache.NewNoopStore()
	}
	if redisClient == nil {
		logger.Warn("schedule cache enabled but redis is not configured; running without cache")
		return cache.NewNoopStore()
	}
	return cache.NewRedisStore(redisClient, cache.RedisOptions{
		OpTimeout:       cfg.CacheOpTimeout,
		RetryBackoff:    cfg.CacheRetryBackoff,
		DegradedLatency: cfg.CacheDegradedLatency,
		Logger:          logger,
		Metrics:         cacheMetrics,
	})
}

// BuildPostgresPool connects to DATABASE_URL. An empty URL returns nil, nil.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// BuildClinicRepository picks postgres when a pool is available and the
// seeded in-memory repository otherwise.
func BuildClinicRepository(pool *pgxpool.Pool, logger *logging.Logger) clinic.Repository {
	if pool != nil {
		return clinic.NewPostgresRepository(pool)
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("DATABASE_URL not set; using in-memory clinic data")
	return clinic.NewMemoryRepository(clinic.DefaultSeed())
}

// BuildSessionStore selects where assistant dialog state lives. The redis
// backend falls back to memory when no client is available.
func BuildSessionStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) (assistant.SessionStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	backend := "memory"
	timeout := assistant.DefaultSessionTimeout
	if cfg != nil {
		if b := strings.TrimSpace(cfg.SessionBackend); b != "" {
			backend = b
		}
		if cfg.SessionTimeout > 0 {
			timeout = cfg.SessionTimeout
		}
	}
	switch backend {
	case "memory":
		return assistant.NewMemorySessionStore(), nil
	case "redis":
		if redisClient == nil {
			logger.Warn("session backend redis requested but redis is not available; using memory")
			return assistant.NewMemorySessionStore(), nil
		}
		return assistant.NewRedisSessionStore(redisClient, timeout), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session backend %q", backend)
	}
}

// BuildEmailSender returns the SendGrid sender when an API key is configured
// and a logging stub otherwise.
func BuildEmailSender(cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil {
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	logger.Info("sendgrid not configured; confirmation emails are logged only")
	return notify.NewStubEmailSender(logger)
}
