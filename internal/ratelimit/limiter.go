package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit/store"
)

// Response headers set whenever the limiter ran.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// DefaultDegradedLogInterval throttles the fail-open warning.
const DefaultDegradedLogInterval = 10 * time.Second

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration

	// Skipped is set when the request bypassed the limiter.
	Skipped bool

	// Degraded is set when the store failed and the request was let through.
	Degraded bool
}

// SetHeaders writes the rate limit headers. Skipped decisions write nothing.
func (d *Decision) SetHeaders(h http.Header) {
	if d == nil || d.Skipped {
		return
	}
	h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(HeaderReset, strconv.FormatInt(resetUnix(d.ResetAt), 10))
}

// resetUnix rounds the reset instant up to whole seconds.
func resetUnix(t time.Time) int64 {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return sec
}

// Limiter enforces a fixed-window quota per caller key.
type Limiter struct {
	cfg      Config
	store    store.Store
	skipper  *Skipper
	logger   observability.Logger
	metrics  *Metrics
	now      func() time.Time
	degraded rate.Sometimes
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(lim *Limiter) {
		lim.logger = l
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(lim *Limiter) {
		lim.metrics = m
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) {
		lim.now = now
	}
}

// WithDegradedLogInterval sets how often the fail-open warning is logged.
func WithDegradedLogInterval(d time.Duration) Option {
	return func(lim *Limiter) {
		lim.degraded = rate.Sometimes{First: 1, Interval: d}
	}
}

// NewLimiter creates a limiter counting in s.
func NewLimiter(cfg Config, s store.Store, opts ...Option) (*Limiter, error) {
	if s == nil {
		return nil, errors.New("rate limit store is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	skipper, err := NewSkipper(cfg.SkipPaths, cfg.TrustedCIDRs, cfg.SkipCacheSize, cfg.SkipCacheTTL)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg:      cfg,
		store:    s,
		skipper:  skipper,
		logger:   observability.NopLogger(),
		now:      time.Now,
		degraded: rate.Sometimes{First: 1, Interval: DefaultDegradedLogInterval},
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Skip reports whether the request bypasses the limiter and records it.
func (l *Limiter) Skip(clientIP, path string) bool {
	if !l.skipper.Skip(clientIP, path) {
		return false
	}
	l.metrics.recordDecision(outcomeSkipped)
	return true
}

// SkippedDecision is returned for requests that bypass the limiter.
func SkippedDecision() *Decision {
	return &Decision{Allowed: true, Skipped: true}
}

// Allow counts one request for key. An exceeded quota returns the decision
// together with a RateLimitExceeded error. A store failure never rejects the
// request: the decision is allowed and marked Degraded.
func (l *Limiter) Allow(ctx context.Context, key string) (*Decision, error) {
	now := l.now()

	count, ttl, err := l.store.Hit(ctx, key, l.cfg.Window)
	if err != nil {
		return l.failOpen(ctx, key, now, err), nil
	}

	if ttl <= 0 || ttl > l.cfg.Window {
		ttl = l.cfg.Window
	}

	d := &Decision{
		Allowed:   count <= l.cfg.Max,
		Limit:     l.cfg.Max,
		Remaining: max(0, l.cfg.Max-count),
		ResetAt:   now.Add(ttl),
	}

	if d.Allowed {
		l.metrics.recordDecision(outcomeAllowed)
		return d, nil
	}

	d.RetryAfter = ceilSeconds(ttl)
	l.metrics.recordDecision(outcomeDenied)
	l.logger.WithContext(ctx).Debug("rate limit exceeded",
		observability.String("key", key),
		observability.Int64("count", count),
		observability.Int64("limit", l.cfg.Max),
		observability.Duration("retry_after", d.RetryAfter),
	)

	return d, apierror.RateLimitExceeded(d.RetryAfter)
}

func (l *Limiter) failOpen(ctx context.Context, key string, now time.Time, err error) *Decision {
	l.metrics.recordStoreError()
	l.metrics.recordDecision(outcomeDegraded)
	l.degraded.Do(func() {
		l.logger.WithContext(ctx).Warn("rate limit store unavailable, failing open",
			observability.String("key", key),
			observability.Error(err),
		)
	})

	return &Decision{
		Allowed:   true,
		Limit:     l.cfg.Max,
		Remaining: l.cfg.Max,
		ResetAt:   now.Add(l.cfg.Window),
		Degraded:  true,
	}
}

// ceilSeconds rounds d up to whole seconds with a one second minimum.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	s := d / time.Second
	if d%time.Second != 0 {
		s++
	}
	return s * time.Second
}
