package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit/store"
)

type errStore struct {
	calls atomic.Int64
}

func (s *errStore) Hit(context.Context, string, time.Duration) (int64, time.Duration, error) {
	s.calls.Add(1)
	return 0, 0, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

func (s *errStore) Ping(context.Context) error { return errors.New("down") }

func (s *errStore) Close() error { return nil }

func newRedisBackedLimiter(t *testing.T, cfg Config, opts ...Option) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, "rl:")
	t.Cleanup(func() { _ = s.Close() })

	l, err := NewLimiter(cfg, s, opts...)
	require.NoError(t, err)
	return l, mr
}

func TestLimiter_AllowsLimitThenRejects(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	s := store.NewMemoryStore(0, store.WithMemoryClock(clock))
	defer s.Close()

	l, err := NewLimiter(Config{Max: 10, Window: time.Minute}, s, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	key := CallerKey("10.0.0.1", "u1")

	for i := 1; i <= 10; i++ {
		d, err := l.Allow(ctx, key)
		require.NoError(t, err, "request %d", i)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(10), d.Limit)
		assert.Equal(t, int64(10-i), d.Remaining)
		assert.Equal(t, now.Add(time.Minute), d.ResetAt)
	}

	d, err := l.Allow(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierror.ErrRateLimitExceeded))
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)

	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, time.Minute, apiErr.RetryAfter)
}

func TestLimiter_RetryAfterShrinksWithinWindow(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := store.NewMemoryStore(0, store.WithMemoryClock(clock))
	defer s.Close()

	l, err := NewLimiter(Config{Max: 1, Window: time.Minute}, s, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Allow(ctx, "k")
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(45*time.Second + 300*time.Millisecond)
	mu.Unlock()

	d, err := l.Allow(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, 15*time.Second, d.RetryAfter, "14.7s rounds up")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newRedisBackedLimiter(t, Config{Max: 1, Window: time.Minute})
	ctx := context.Background()

	_, err := l.Allow(ctx, CallerKey("10.0.0.1", "u1"))
	require.NoError(t, err)
	_, err = l.Allow(ctx, CallerKey("10.0.0.1", "u2"))
	require.NoError(t, err)
	_, err = l.Allow(ctx, CallerKey("10.0.0.2", "u1"))
	require.NoError(t, err)

	_, err = l.Allow(ctx, CallerKey("10.0.0.1", "u1"))
	assert.Error(t, err)
}

func TestLimiter_WindowRollover(t *testing.T) {
	t.Parallel()

	l, mr := newRedisBackedLimiter(t, Config{Max: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, "k")
		require.NoError(t, err)
	}
	_, err := l.Allow(ctx, "k")
	require.Error(t, err)

	mr.FastForward(61 * time.Second)

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
}

func TestLimiter_ConcurrentNeverOvershoots(t *testing.T) {
	t.Parallel()

	const (
		limit = 10
		extra = 40
	)

	l, _ := newRedisBackedLimiter(t, Config{Max: limit, Window: time.Minute})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
		denied  atomic.Int64
	)
	for i := 0; i < limit+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "shared")
			if err != nil {
				denied.Add(1)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
	assert.Equal(t, int64(extra), denied.Load())
}

func TestLimiter_ConcurrentInstancesShareCounters(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	instances := make([]*Limiter, 3)
	for i := range instances {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s := store.NewRedisStoreFromClient(client, "rl:")
		t.Cleanup(func() { _ = s.Close() })
		l, err := NewLimiter(Config{Max: 5, Window: time.Minute}, s)
		require.NoError(t, err)
		instances[i] = l
	}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(l *Limiter) {
			defer wg.Done()
			if _, err := l.Allow(context.Background(), "caller"); err == nil {
				allowed.Add(1)
			}
		}(instances[i%len(instances)])
	}
	wg.Wait()

	assert.Equal(t, int64(5), allowed.Load())
}

func TestLimiter_FailsOpenWhenStoreDown(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	s := &errStore{}

	l, err := NewLimiter(Config{Max: 1, Window: time.Minute}, s, WithMetrics(m))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.True(t, d.Degraded)
	}

	assert.Equal(t, int64(3), s.calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.storeErrorsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(outcomeDegraded)))
}

func TestLimiter_FailsOpenWhenRedisStops(t *testing.T) {
	t.Parallel()

	l, mr := newRedisBackedLimiter(t, Config{Max: 1, Window: time.Minute})
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)

	mr.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Degraded)
}

func TestLimiter_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	s := store.NewMemoryStore(0)
	defer s.Close()

	l, err := NewLimiter(Config{Max: 1, Window: time.Minute}, s, WithMetrics(m))
	require.NoError(t, err)

	_, _ = l.Allow(context.Background(), "k")
	_, _ = l.Allow(context.Background(), "k")
	assert.True(t, l.Skip("10.0.0.1", "/health"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(outcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(outcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(outcomeSkipped)))
}

func TestNewLimiter_Validation(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore(0)
	defer s.Close()

	tests := []struct {
		name  string
		cfg   Config
		store store.Store
	}{
		{name: "nil store", cfg: Config{Max: 1, Window: time.Second}},
		{name: "negative max", cfg: Config{Max: -1, Window: time.Second}, store: s},
		{name: "negative window", cfg: Config{Max: 1, Window: -time.Second}, store: s},
		{name: "bad cidr", cfg: Config{Max: 1, Window: time.Second, TrustedCIDRs: []string{"10.0.0.0/33"}}, store: s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLimiter(tt.cfg, tt.store)
			assert.Error(t, err)
		})
	}
}

func TestNewLimiter_AppliesDefaults(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore(0)
	defer s.Close()

	l, err := NewLimiter(Config{}, s)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, int64(DefaultMax), cfg.Max)
	assert.Equal(t, DefaultWindow, cfg.Window)
	assert.Equal(t, DefaultSkipPaths, cfg.SkipPaths)
}

func TestDecision_SetHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	d := &Decision{
		Allowed:   true,
		Limit:     10,
		Remaining: 3,
		ResetAt:   time.Unix(1_700_000_060, 500),
	}
	d.SetHeaders(h)

	assert.Equal(t, "10", h.Get(HeaderLimit))
	assert.Equal(t, "3", h.Get(HeaderRemaining))
	assert.Equal(t, "1700000061", h.Get(HeaderReset))

	skipped := http.Header{}
	SkippedDecision().SetHeaders(skipped)
	assert.Empty(t, skipped)
}

func TestCeilSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: time.Second},
		{in: 10 * time.Millisecond, want: time.Second},
		{in: time.Second, want: time.Second},
		{in: 1001 * time.Millisecond, want: 2 * time.Second},
		{in: time.Minute, want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ceilSeconds(tt.in))
		})
	}
}

func TestCallerKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10.0.0.1:u1", CallerKey("10.0.0.1", "u1"))
	assert.Equal(t, "10.0.0.1:", CallerKey("10.0.0.1", ""))
}
