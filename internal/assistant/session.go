package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Stage is the dialog state of one user.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageCollecting Stage = "collecting_slot"
	StageCompleted  Stage = "completed"
)

// SessionState is the per-user dialog state persisted between turns.
type SessionState struct {
	UserID    string    `json:"user_id"`
	Stage     Stage     `json:"stage"`
	Pending   SlotName  `json:"pending,omitempty"`
	Slots     Slots     `json:"slots"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func idleState(userID string) SessionState {
	return SessionState{UserID: userID, Stage: StageIdle}
}

// expired reports whether a collecting session has been inactive for longer
// than timeout.
func (s SessionState) expired(now time.Time, timeout time.Duration) bool {
	return s.Stage == StageCollecting && timeout > 0 && now.Sub(s.UpdatedAt) > timeout
}

// SessionStore persists dialog state. Load reports false when the user has
// no session.
type SessionStore interface {
	Load(ctx context.Context, userID string) (SessionState, bool, error)
	Save(ctx context.Context, state SessionState) error
	Delete(ctx context.Context, userID string) error
}

// MemorySessionStore keeps sessions in process.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]SessionState
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionState)}
}

func (m *MemorySessionStore) Load(_ context.Context, userID string) (SessionState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[userID]
	return state, ok, nil
}

func (m *MemorySessionStore) Save(_ context.Context, state SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.UserID] = state
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// Len reports how many sessions are stored.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RedisSessionStore keeps sessions as JSON documents that expire after ttl.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisSessionStore panics on a nil client. A non-positive ttl uses
// DefaultSessionTimeout.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if client == nil {
		panic("assistant: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTimeout
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("clinic.internal.assistant.session"),
	}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("assistant:session:%s", userID)
}

func (s *RedisSessionStore) Load(ctx context.Context, userID string) (SessionState, bool, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionState{}, false, nil
		}
		span.RecordError(err)
		return SessionState{}, false, fmt.Errorf("assistant: failed to load session: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		span.RecordError(err)
		return SessionState{}, false, fmt.Errorf("assistant: failed to decode session: %w", err)
	}
	return state, true, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, state SessionState) error {
	ctx, span := s.tracer.Start(ctx, "assistant.save_session")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("assistant: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(state.UserID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("assistant: failed to persist session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "assistant.delete_session")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(userID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("assistant: failed to delete session: %w", err)
	}
	return nil
}

// KeyedLock serializes work per key. Different keys never block each other.
// Locks are held in process, so a redis session store shared by several
// replicas still needs sticky routing per user.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLock returns a lock set with no keys held.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (k *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, e, true) })
	}, nil
}

func (k *KeyedLock) release(key string, e *keyedEntry, held bool) {
	if held {
		<-e.ch
	}
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Size reports how many keys are currently locked or awaited.
func (k *KeyedLock) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
