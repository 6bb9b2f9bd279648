package apierror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/rentgw/internal/audit"
)

type recordingAuditor struct {
	audit.Logger

	mu      sync.Mutex
	details []map[string]interface{}
}

func (r *recordingAuditor) LogSecurity(_ context.Context, _ audit.Action, _ *audit.Subject, d map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = append(r.details, d)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestPatternCounter_AlertOncePerWindow(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: fixedNow}
	auditor := &recordingAuditor{Logger: audit.NewNoopLogger()}
	p := NewPatternCounter(3, time.Minute, WithPatternClock(clock.Now), WithPatternAuditLogger(auditor))
	ctx := context.Background()

	assert.False(t, p.Observe(ctx, 401, CodeUnauthorized))
	assert.False(t, p.Observe(ctx, 401, CodeUnauthorized))
	assert.True(t, p.Observe(ctx, 401, CodeUnauthorized))
	assert.False(t, p.Observe(ctx, 401, CodeUnauthorized), "second alert in same window")

	// Other pairs are counted independently.
	assert.False(t, p.Observe(ctx, 403, CodeForbidden))

	clock.Advance(time.Minute + time.Second)
	assert.Equal(t, 0, p.Count(401, CodeUnauthorized))

	for i := 0; i < 2; i++ {
		p.Observe(ctx, 401, CodeUnauthorized)
	}
	assert.True(t, p.Observe(ctx, 401, CodeUnauthorized), "new window alerts again")

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	assert.Len(t, auditor.details, 2)
	assert.Equal(t, CodeUnauthorized, auditor.details[0]["error_code"])
	assert.Equal(t, 401, auditor.details[0]["status"])
}

func TestPatternCounter_RollingWindow(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: fixedNow}
	p := NewPatternCounter(10, 10*time.Second, WithPatternClock(clock.Now))
	ctx := context.Background()

	p.Observe(ctx, 500, CodeInternal)
	clock.Advance(6 * time.Second)
	p.Observe(ctx, 500, CodeInternal)
	assert.Equal(t, 2, p.Count(500, CodeInternal))

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, p.Count(500, CodeInternal))
}

func TestPatternCounter_Sweep(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: fixedNow}
	p := NewPatternCounter(10, time.Second, WithPatternClock(clock.Now))

	p.Observe(context.Background(), 404, CodeNotFound)
	clock.Advance(2 * time.Second)
	p.Sweep()

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.entries)
}

func TestPatternCounter_Concurrent(t *testing.T) {
	t.Parallel()

	p := NewPatternCounter(1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Observe(context.Background(), 429, CodeRateLimitExceeded)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, p.Count(429, CodeRateLimitExceeded))
}

func TestNewPatternCounter_Defaults(t *testing.T) {
	t.Parallel()

	p := NewPatternCounter(0, 0)
	assert.Equal(t, DefaultAlertThreshold, p.threshold)
	assert.Equal(t, DefaultAlertWindow, p.window)
}
