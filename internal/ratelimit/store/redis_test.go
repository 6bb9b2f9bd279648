package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "rl:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Hit_StartsWindow(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	count, ttl, err := s.Hit(ctx, "10.0.0.1:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.InDelta(t, time.Minute.Milliseconds(), ttl.Milliseconds(), 50)

	count, _, err = s.Hit(ctx, "10.0.0.1:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.True(t, mr.Exists("rl:10.0.0.1:u1"))
	assert.Equal(t, time.Minute, mr.TTL("rl:10.0.0.1:u1"))
}

func TestRedisStore_Hit_WindowRollover(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := s.Hit(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	mr.FastForward(30 * time.Second)
	count, ttl, err := s.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
	assert.Equal(t, 30*time.Second, ttl)

	mr.FastForward(31 * time.Second)
	count, ttl, err = s.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired window starts over")
	assert.Equal(t, time.Minute, ttl)
}

func TestRedisStore_Hit_KeyWithoutExpiry(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set("rl:stale", "41"))

	count, ttl, err := s.Hit(context.Background(), "stale", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.Equal(t, 10*time.Second, ttl)
	assert.Equal(t, 10*time.Second, mr.TTL("rl:stale"))
}

func TestRedisStore_Hit_Concurrent(t *testing.T) {
	t.Parallel()

	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	const n = 100
	counts := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := s.Hit(ctx, "shared", time.Minute)
			assert.NoError(t, err)
			counts[i] = c
		}(i)
	}
	wg.Wait()

	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i, c := range counts {
		assert.Equal(t, int64(i+1), c)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStore(t)
	mr.Close()

	_, _, err := s.Hit(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}

func TestRedisStore_CancelledContext(t *testing.T) {
	t.Parallel()

	s, _ := newTestRedisStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Hit(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisStore_Connects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)

	cfg := DefaultRedisConfig()
	cfg.Address = mr.Addr()
	cfg.HealthCheckInterval = 0
	cfg.RequireConnection = true

	s, err := NewRedisStore(context.Background(), cfg, WithRedisMetrics(metrics))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Healthy())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.healthy))

	_, _, err = s.Hit(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operationsTotal.WithLabelValues("hit", "success")))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	t.Parallel()

	cfg := DefaultRedisConfig()
	cfg.Address = "127.0.0.1:1"
	cfg.DialTimeout = 50 * time.Millisecond
	cfg.ConnectionRetries = 1
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.HealthCheckInterval = 0

	cfg.RequireConnection = true
	_, err := NewRedisStore(context.Background(), cfg)
	assert.Error(t, err)

	cfg.RequireConnection = false
	s, err := NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, s.Healthy())
}

func TestRedisStore_CloseIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestRedisStore(t)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, _, err := s.Hit(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecorrelatedJitterBackoff(t *testing.T) {
	t.Parallel()

	b := newDecorrelatedJitterBackoff(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b.next(0))

	for i := 1; i < 10; i++ {
		d := b.next(i)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}
