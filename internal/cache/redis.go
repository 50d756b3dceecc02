package cache

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

const (
	defaultOpTimeout       = 250 * time.Millisecond
	defaultRetryBackoff    = 30 * time.Second
	defaultDegradedLatency = 100 * time.Millisecond
	scanBatchSize          = 200
)

// RedisOptions tunes the failure handling of a RedisStore.
type RedisOptions struct {
	// OpTimeout bounds every redis command.
	OpTimeout time.Duration
	// RetryBackoff is how long the store stays Unavailable after a transport
	// error before it tries the backend again.
	RetryBackoff time.Duration
	// DegradedLatency is the ping latency above which Health reports Degraded.
	DegradedLatency time.Duration

	Logger  *logging.Logger
	Metrics *metrics.CacheMetrics
	Tracer  trace.Tracer
	// Now is used for the backoff clock. Defaults to time.Now.
	Now func() time.Time
}

// RedisStore is the networked Store variant.
type RedisStore struct {
	client          *redis.Client
	logger          *logging.Logger
	metrics         *metrics.CacheMetrics
	tracer          trace.Tracer
	opTimeout       time.Duration
	retryBackoff    time.Duration
	degradedLatency time.Duration
	now             func() time.Time

	mu        sync.Mutex
	downUntil time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts RedisOptions) *RedisStore {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.DegradedLatency <= 0 {
		opts.DegradedLatency = defaultDegradedLatency
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("clinic.internal.cache")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisStore{
		client:          client,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		opTimeout:       opts.OpTimeout,
		retryBackoff:    opts.RetryBackoff,
		degradedLatency: opts.DegradedLatency,
		now:             opts.Now,
	}
}

// Get treats every redis error as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.Enabled() {
		return nil, false
	}
	ctx, span := s.tracer.Start(ctx, "cache.get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}
	if err != nil {
		span.RecordError(err)
		s.fail("get", key, err)
		return nil, false
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	ctx, span := s.tracer.Start(ctx, "cache.set", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl_seconds", int64(ttl/time.Second)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		span.RecordError(err)
		s.fail("set", key, err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 || !s.Enabled() {
		return
	}
	ctx, span := s.tracer.Start(ctx, "cache.delete", trace.WithAttributes(attribute.Int("cache.keys", len(keys))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		s.fail("delete", strings.Join(keys, ","), err)
	}
}

// DeletePrefix scans and deletes in batches and returns how many keys went
// before the first error, if any.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) int {
	if !s.Enabled() {
		return 0
	}
	ctx, span := s.tracer.Start(ctx, "cache.delete_prefix", trace.WithAttributes(attribute.String("cache.prefix", prefix)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	pattern := escapeGlob(prefix) + "*"
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			span.RecordError(err)
			s.fail("scan", pattern, err)
			return deleted
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				span.RecordError(err)
				s.fail("delete", pattern, err)
				return deleted
			}
			deleted += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	span.SetAttributes(attribute.Int("cache.deleted", deleted))
	return deleted
}

// Health pings the backend even while the store is backing off, so a
// recovered redis is picked up as soon as someone asks.
func (s *RedisStore) Health(ctx context.Context) Health {
	ctx, span := s.tracer.Start(ctx, "cache.health")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	start := s.now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		span.RecordError(err)
		s.fail("ping", "", err)
		return Unavailable
	}
	s.recover()
	if s.now().Sub(start) > s.degradedLatency {
		return Degraded
	}
	return Healthy
}

// Enabled reports false while the store is inside its backoff window.
func (s *RedisStore) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.downUntil)
}

func (s *RedisStore) fail(op, key string, err error) {
	s.metrics.ObserveStoreError(op)
	if !isTransportError(err) {
		s.logger.Warn("cache operation failed", "op", op, "key", key, "error", err)
		return
	}
	s.mu.Lock()
	s.downUntil = s.now().Add(s.retryBackoff)
	s.mu.Unlock()
	s.logger.Warn("cache backend unavailable, degrading to pass-through",
		"op", op,
		"key", key,
		"retry_in", s.retryBackoff.String(),
		"error", err,
	)
}

func (s *RedisStore) recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.downUntil.IsZero() {
		s.downUntil = time.Time{}
		s.logger.Info("cache backend reachable again")
	}
}

// isTransportError separates connectivity failures from command errors such
// as WRONGTYPE, which only affect a single key. A cancelled caller context is
// not the backend's fault.
func isTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
