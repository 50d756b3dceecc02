package assistant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSessionStore_RoundTripWithTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisSessionStore(client, 15*time.Minute)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	state := SessionState{
		UserID:    "u1",
		Stage:     StageCollecting,
		Pending:   SlotDate,
		Slots:     Slots{Doctor: &DoctorRef{ID: 1, Name: "Dr. Ana Silva"}},
		UpdatedAt: fixedNow(),
		Version:   3,
	}
	require.NoError(t, store.Save(ctx, state))
	assert.Equal(t, 15*time.Minute, mr.TTL("assistant:session:u1"))

	got, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, got)

	require.NoError(t, store.Delete(ctx, "u1"))
	assert.False(t, mr.Exists("assistant:session:u1"))
}

func TestRedisSessionStore_ExpiresAfterTimeout(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisSessionStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, SessionState{UserID: "u1", Stage: StageCollecting, Pending: SlotDoctor}))
	mr.FastForward(time.Minute)

	_, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSessionStore_CorruptDocument(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisSessionStore(client, time.Minute)
	require.NoError(t, mr.Set("assistant:session:u1", "not json"))

	_, _, err := store.Load(context.Background(), "u1")
	assert.Error(t, err)
}

func TestNewRedisSessionStore_PanicsWithoutClient(t *testing.T) {
	assert.Panics(t, func() { NewRedisSessionStore(nil, time.Minute) })
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, SessionState{UserID: "a", Stage: StageCollecting}))
	require.NoError(t, store.Save(ctx, SessionState{UserID: "b", Stage: StageCollecting}))
	assert.Equal(t, 2, store.Len())

	got, ok, err := store.Load(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.UserID)

	require.NoError(t, store.Delete(ctx, "a"))
	_, ok, _ = store.Load(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	locks := NewKeyedLock()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Lock(ctx, "user")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, locks.Size())
}

func TestKeyedLock_DifferentKeysDoNotBlock(t *testing.T) {
	locks := NewKeyedLock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locks.Lock(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestKeyedLock_HonoursContext(t *testing.T) {
	locks := NewKeyedLock()
	release, err := locks.Lock(context.Background(), "user")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "user")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	release()
	assert.Equal(t, 0, locks.Size())
}
