// Package availability puts the schedule cache in front of the clinic
// collaborator. Reads are cache-aside; bookings and cancellations invalidate
// every cached schedule listing before they return.
package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/clinic-assistant/internal/cache"
	"github.com/wolfman30/clinic-assistant/internal/clinic"
	"github.com/wolfman30/clinic-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-assistant/pkg/logging"
)

const (
	// KeyPrefix namespaces every schedule listing in the cache.
	KeyPrefix  = "schedules:"
	DefaultTTL = 300 * time.Second
)

var availabilityTracer = otel.Tracer("clinic.internal.availability")

// Source is the uncached collaborator. *clinic.Service satisfies it.
type Source interface {
	clinic.Backend
	PatientIDForUser(ctx context.Context, userID string) (int64, error)
}

// entry is the cached payload for one filter combination.
type entry struct {
	Schedules  []clinic.Schedule `json:"schedules"`
	CachedAt   time.Time         `json:"cached_at"`
	TotalCount int               `json:"total_count"`
}

// Stats is served by GET /cache/stats.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
	Enabled  bool    `json:"enabled"`
	TTL      int64   `json:"ttl_seconds"`
}

// Options configures a Gateway. TTL defaults to DefaultTTL; Metrics may be nil.
type Options struct {
	TTL     time.Duration
	Logger  *logging.Logger
	Metrics *metrics.CacheMetrics
	Now     func() time.Time
}

// Gateway is the only component that reads or writes schedule cache entries.
type Gateway struct {
	source  Source
	store   cache.Store
	ttl     time.Duration
	logger  *logging.Logger
	metrics *metrics.CacheMetrics
	now     func() time.Time
	group   singleflight.Group

	// generation is bumped by every invalidation. A fill started under an
	// older generation is dropped so pre-mutation rows never reach the cache.
	// fillMu orders fills against invalidations.
	fillMu     sync.RWMutex
	generation atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewGateway wraps source with a cache-aside layer over store. A nil store
// disables caching; lookups then always reach source.
func NewGateway(source Source, store cache.Store, opts Options) *Gateway {
	if source == nil {
		panic("availability: source required")
	}
	if store == nil {
		store = cache.NewNoopStore()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gateway{
		source:  source,
		store:   store,
		ttl:     opts.TTL,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// ScheduleKey derives the cache key for a filter. Fields are always emitted
// in the same order, with "all" standing in for an absent filter.
func ScheduleKey(filter clinic.ScheduleFilter) string {
	date := "all"
	if filter.Date != "" {
		date = filter.Date
	}
	doctor := "all"
	if filter.DoctorID != 0 {
		doctor = strconv.FormatInt(filter.DoctorID, 10)
	}
	return KeyPrefix + "date=" + date + ":doctor_id=" + doctor
}

// AvailableSchedules returns the same result the source would, served from
// the cache when a live entry exists.
func (g *Gateway) AvailableSchedules(ctx context.Context, filter clinic.ScheduleFilter) ([]clinic.Schedule, error) {
	if filter.Date != "" {
		date, err := clinic.ParseDate(filter.Date)
		if err != nil {
			return nil, err
		}
		filter.Date = date
	}
	key := ScheduleKey(filter)

	ctx, span := availabilityTracer.Start(ctx, "availability.lookup")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	if raw, ok := g.store.Get(ctx, key); ok {
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil {
			g.hits.Add(1)
			g.metrics.ObserveLookup(true)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return e.Schedules, nil
		}
		g.logger.Warn("discarding undecodable cache entry", "key", key)
		g.store.Delete(ctx, key)
	}
	g.misses.Add(1)
	g.metrics.ObserveLookup(false)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	gen := g.generation.Load()
	flight := key + "@" + strconv.FormatUint(gen, 10)
	v, err, _ := g.group.Do(flight, func() (any, error) {
		schedules, err := g.source.AvailableSchedules(ctx, filter)
		if err != nil {
			return nil, err
		}
		g.fill(ctx, key, gen, schedules)
		return schedules, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	shared := v.([]clinic.Schedule)
	return append([]clinic.Schedule(nil), shared...), nil
}

// fill caches schedules read under generation gen. It is a no-op when an
// invalidation ran since gen was taken.
func (g *Gateway) fill(ctx context.Context, key string, gen uint64, schedules []clinic.Schedule) {
	if !g.store.Enabled() {
		return
	}
	payload, err := json.Marshal(entry{Schedules: schedules, CachedAt: g.now().UTC(), TotalCount: len(schedules)})
	if err != nil {
		g.metrics.ObserveFillFailure()
		g.logger.Warn("cache fill encode failed", "key", key, "error", err)
		return
	}

	g.fillMu.RLock()
	defer g.fillMu.RUnlock()
	if g.generation.Load() != gen {
		g.logger.Debug("dropping cache fill from before an invalidation", "key", key)
		return
	}
	g.store.Set(ctx, key, payload, g.ttl)
}

// CreateAppointment books through the source and, on success only, drops
// every cached schedule listing.
func (g *Gateway) CreateAppointment(ctx context.Context, req clinic.CreateAppointmentRequest) (*clinic.Appointment, error) {
	appt, err := g.source.CreateAppointment(ctx, req)
	if err != nil {
		return nil, err
	}
	g.invalidate(ctx, "create_appointment")
	return appt, nil
}

// CancelAppointment mirrors CreateAppointment for cancellations.
func (g *Gateway) CancelAppointment(ctx context.Context, id int64) (*clinic.Appointment, error) {
	appt, err := g.source.CancelAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	g.invalidate(ctx, "cancel_appointment")
	return appt, nil
}

// Clear drops every cached schedule listing and reports how many went.
func (g *Gateway) Clear(ctx context.Context) int {
	return g.invalidate(ctx, "admin_clear")
}

// invalidate drops every listing, since one booking touches the unfiltered,
// per-date and per-doctor keys at once. A lost delete ages out after the TTL.
func (g *Gateway) invalidate(ctx context.Context, trigger string) int {
	ctx, span := availabilityTracer.Start(ctx, "availability.invalidate")
	defer span.End()

	g.fillMu.Lock()
	g.generation.Add(1)
	n := g.store.DeletePrefix(ctx, KeyPrefix)
	g.fillMu.Unlock()
	g.metrics.ObserveInvalidation(trigger)
	span.SetAttributes(attribute.String("cache.trigger", trigger), attribute.Int("cache.deleted", n))
	g.logger.Debug("schedule cache invalidated", "trigger", trigger, "deleted", n)
	return n
}

// Stats reports lookup counters since start. They are process local and
// survive Clear.
func (g *Gateway) Stats() Stats {
	hits, misses := g.hits.Load(), g.misses.Load()
	ratio := 0.0
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return Stats{
		Hits:     hits,
		Misses:   misses,
		HitRatio: ratio,
		Enabled:  g.store.Enabled(),
		TTL:      int64(g.ttl / time.Second),
	}
}

// Health pings the backing store.
func (g *Gateway) Health(ctx context.Context) cache.Health {
	return g.store.Health(ctx)
}

// The remaining collaborator calls are not cached.

func (g *Gateway) ListPatients(ctx context.Context) ([]clinic.Patient, error) {
	return g.source.ListPatients(ctx)
}

func (g *Gateway) GetPatient(ctx context.Context, id int64) (*clinic.Patient, error) {
	return g.source.GetPatient(ctx, id)
}

// CreatePatient skips invalidation: patient writes never touch schedule rows.
func (g *Gateway) CreatePatient(ctx context.Context, req clinic.PatientRequest) (*clinic.Patient, bool, error) {
	return g.source.CreatePatient(ctx, req)
}

func (g *Gateway) UpdatePatient(ctx context.Context, id int64, req clinic.PatientRequest) (*clinic.Patient, error) {
	return g.source.UpdatePatient(ctx, id, req)
}

func (g *Gateway) DeletePatient(ctx context.Context, id int64) error {
	return g.source.DeletePatient(ctx, id)
}

func (g *Gateway) ListDoctors(ctx context.Context) ([]clinic.Doctor, error) {
	return g.source.ListDoctors(ctx)
}

func (g *Gateway) FindAppointments(ctx context.Context, filter clinic.AppointmentFilter) ([]clinic.Appointment, error) {
	return g.source.FindAppointments(ctx, filter)
}

func (g *Gateway) PaymentInfo(ctx context.Context) (clinic.PaymentInfo, error) {
	return g.source.PaymentInfo(ctx)
}

func (g *Gateway) PatientIDForUser(ctx context.Context, userID string) (int64, error) {
	id, err := g.source.PatientIDForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("availability: resolve patient: %w", err)
	}
	return id, nil
}
