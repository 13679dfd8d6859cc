package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
)

func newRedisStoreForTest(t *testing.T) (*miniredis.Miniredis, *ratelimit.RedisStore) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := ratelimit.NewRedisStore(client, "bastion_test")
	t.Cleanup(func() {
		_ = store.Close()
		server.Close()
	})
	return server, store
}

type storeCase struct {
	name string
	// setup also returns a func that advances the backend's own clock
	setup func(t *testing.T) (ratelimit.Store, func(d time.Duration))
}

func storeCases() []storeCase {
	return []storeCase{
		{
			name: "memory",
			setup: func(t *testing.T) (ratelimit.Store, func(time.Duration)) {
				return ratelimit.NewMemoryStore(), func(time.Duration) {}
			},
		},
		{
			name: "redis",
			setup: func(t *testing.T) (ratelimit.Store, func(time.Duration)) {
				server, store := newRedisStoreForTest(t)
				return store, server.FastForward
			},
		},
	}
}

func TestStore_IncrementWindow(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			store, expire := tc.setup(t)
			ctx := context.Background()
			now := time.Now()
			key := ratelimit.CounterKey(models.RateClassLogin, "203.0.113.7")

			for i := 1; i <= 3; i++ {
				count, resetAt, err := store.Increment(ctx, key, time.Minute, now)
				require.NoError(t, err)
				assert.Equal(t, i, count)
				assert.WithinDuration(t, now.Add(time.Minute), resetAt, time.Second)
			}

			count, err := store.Count(ctx, key, now)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			later := now.Add(time.Minute + time.Second)
			expire(time.Minute + time.Second)

			count, resetAt, err := store.Increment(ctx, key, time.Minute, later)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
			assert.True(t, resetAt.After(later))
		})
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := tc.setup(t)
			ctx := context.Background()
			now := time.Now()

			_, _, err := store.Increment(ctx, ratelimit.CounterKey(models.RateClassLogin, "a"), time.Minute, now)
			require.NoError(t, err)

			count, err := store.Count(ctx, ratelimit.CounterKey(models.RateClassRegister, "a"), now)
			require.NoError(t, err)
			assert.Zero(t, count)

			count, err = store.Count(ctx, ratelimit.CounterKey(models.RateClassLogin, "b"), now)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestStore_Reset(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := tc.setup(t)
			ctx := context.Background()
			now := time.Now()

			_, _, err := store.Increment(ctx, "k", time.Minute, now)
			require.NoError(t, err)
			require.NoError(t, store.Reset(ctx, "k"))

			count, err := store.Count(ctx, "k", now)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestStore_ConcurrentIncrement(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := tc.setup(t)
			ctx := context.Background()
			now := time.Now()

			const workers = 50
			var wg sync.WaitGroup
			seen := make(chan int, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					count, _, err := store.Increment(ctx, "hot", time.Minute, now)
					if err == nil {
						seen <- count
					}
				}()
			}
			wg.Wait()
			close(seen)

			unique := make(map[int]bool)
			for c := range seen {
				unique[c] = true
			}
			assert.Len(t, unique, workers)
		})
	}
}

func TestStore_Blocks(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := tc.setup(t)
			ctx := context.Background()
			now := time.Now()

			b, err := store.Blocked(ctx, "198.51.100.1", now)
			require.NoError(t, err)
			assert.Nil(t, b)

			require.NoError(t, store.Block(ctx, models.BlockedAddress{
				Address: "198.51.100.1",
				Reason:  models.BlockReasonBruteForce,
				Until:   now.Add(24 * time.Hour),
			}))

			// a shorter block does not shorten the existing one
			require.NoError(t, store.Block(ctx, models.BlockedAddress{
				Address: "198.51.100.1",
				Reason:  models.BlockReasonRiskScore,
				Until:   now.Add(time.Hour),
			}))

			b, err = store.Blocked(ctx, "198.51.100.1", now)
			require.NoError(t, err)
			require.NotNil(t, b)
			assert.Equal(t, models.BlockReasonBruteForce, b.Reason)
			assert.WithinDuration(t, now.Add(24*time.Hour), b.Until, time.Second)

			// past the block the address is free again
			b, err = store.Blocked(ctx, "198.51.100.1", now.Add(25*time.Hour))
			require.NoError(t, err)
			assert.Nil(t, b)

			list, err := store.ListBlocked(ctx, now)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "198.51.100.1", list[0].Address)

			removed, err := store.Unblock(ctx, "198.51.100.1")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = store.Unblock(ctx, "198.51.100.1")
			require.NoError(t, err)
			assert.False(t, removed)

			list, err = store.ListBlocked(ctx, now)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_, _, _ = store.Increment(ctx, "short", time.Second, now)
	_, _, _ = store.Increment(ctx, "long", time.Hour, now)
	require.NoError(t, store.Block(ctx, models.BlockedAddress{Address: "x", Until: now.Add(time.Second)}))

	// reading an expired block leaves eviction to Sweep
	b, err := store.Blocked(ctx, "x", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, b)
	list, err := store.ListBlocked(ctx, now)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	removed, err := store.Sweep(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := store.Count(ctx, "long", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRedisStore_Unavailable(t *testing.T) {
	server, store := newRedisStoreForTest(t)
	server.Close()

	_, _, err := store.Increment(context.Background(), "k", time.Minute, time.Now())
	assert.ErrorIs(t, err, ratelimit.ErrStoreUnavailable)
}
