package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Hit(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(time.Hour, WithMemoryClock(clock.Now))
	defer s.Close()
	ctx := context.Background()

	count, ttl, err := s.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(20 * time.Second)
	count, ttl, err = s.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Second, ttl)

	clock.Advance(40 * time.Second)
	count, ttl, err = s.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "window boundary resets the counter")
	assert.Equal(t, time.Minute, ttl)
}

func TestMemoryStore_KeysIndependent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(0)
	defer s.Close()

	c1, _, _ := s.Hit(context.Background(), "a", time.Minute)
	c2, _, _ := s.Hit(context.Background(), "b", time.Minute)
	assert.Equal(t, int64(1), c1)
	assert.Equal(t, int64(1), c2)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(0)
	defer s.Close()

	var maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := s.Hit(context.Background(), "shared", time.Minute)
			assert.NoError(t, err)
			for {
				cur := maxSeen.Load()
				if c <= cur || maxSeen.CompareAndSwap(cur, c) {
					break
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), maxSeen.Load())
}

func TestMemoryStore_Sweep(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(time.Hour, WithMemoryClock(clock.Now))
	defer s.Close()

	_, _, _ = s.Hit(context.Background(), "short", time.Second)
	_, _, _ = s.Hit(context.Background(), "long", time.Hour)
	clock.Advance(2 * time.Second)
	s.sweep()

	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_Closed(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(0)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err := s.Hit(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(0)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Hit(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
