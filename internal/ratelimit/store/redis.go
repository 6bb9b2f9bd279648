package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// hitScript increments a window counter and starts the window on the
// first hit. A key left without expiry (e.g. written by another client)
// gets the window applied so it cannot stick forever.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
// Returns: {count, ttl in milliseconds}
var hitScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`)

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	// Connection pool settings
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InitialBackoff is the initial backoff duration for connection retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for connection retries.
	MaxBackoff time.Duration

	// ConnectionRetries is the number of connection retry attempts.
	ConnectionRetries int

	// HealthCheckInterval is the interval for background pings.
	HealthCheckInterval time.Duration

	// RequireConnection makes NewRedisStore fail when Redis cannot be
	// reached at startup. Otherwise the store is returned unhealthy and
	// the client keeps reconnecting.
	RequireConnection bool
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:             "localhost:6379",
		Prefix:              "ratelimit:",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          1,
		DialTimeout:         2 * time.Second,
		ReadTimeout:         500 * time.Millisecond,
		WriteTimeout:        500 * time.Millisecond,
		InitialBackoff:      100 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		ConnectionRetries:   3,
		HealthCheckInterval: 5 * time.Second,
	}
}

// RedisStore implements Store using Redis.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	logger  observability.Logger
	metrics *Metrics

	healthy   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger.
func WithRedisLogger(l observability.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = l
	}
}

// WithRedisMetrics sets the metrics.
func WithRedisMetrics(m *Metrics) RedisOption {
	return func(s *RedisStore) {
		s.metrics = m
	}
}

// NewRedisStore creates a Redis store and connects with exponential backoff
// and decorrelated jitter.
func NewRedisStore(ctx context.Context, config *RedisConfig, opts ...RedisOption) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	s := newRedisStore(client, config.Prefix, opts...)

	if err := s.connectWithRetry(ctx, config); err != nil {
		if config.RequireConnection {
			_ = client.Close()
			return nil, err
		}
		s.logger.Warn("redis unavailable at startup, rate limiting will fail open until it recovers",
			observability.String("address", config.Address),
			observability.Error(err),
		)
	}

	if config.HealthCheckInterval > 0 {
		go s.startHealthCheck(config.HealthCheckInterval)
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. No health check runs.
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts ...RedisOption) *RedisStore {
	s := newRedisStore(client, prefix, opts...)
	s.healthy.Store(true)
	s.setHealthyGauge(true)
	return s
}

func newRedisStore(client *redis.Client, prefix string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// connectWithRetry pings Redis until it answers or retries are exhausted.
func (s *RedisStore) connectWithRetry(ctx context.Context, config *RedisConfig) error {
	maxRetries := config.ConnectionRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := newDecorrelatedJitterBackoff(config.InitialBackoff, config.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		lastErr = s.client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("redis connection established after retry",
					observability.String("address", config.Address),
					observability.Int("attempt", attempt+1),
				)
			}
			s.healthy.Store(true)
			s.setHealthyGauge(true)
			return nil
		}

		if s.metrics != nil {
			s.metrics.connectionErrors.Inc()
		}

		if attempt >= maxRetries {
			break
		}

		wait := backoff.next(attempt)
		s.logger.Debug("redis connection failed, retrying",
			observability.String("address", config.Address),
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)
		if s.metrics != nil {
			s.metrics.connectionRetries.Inc()
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connection cancelled during backoff: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	s.setHealthyGauge(false)
	return fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries+1, lastErr)
}

// startHealthCheck pings Redis periodically and logs health transitions.
func (s *RedisStore) startHealthCheck(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHealth(interval)
		case <-s.done:
			return
		}
	}
}

func (s *RedisStore) checkHealth(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.client.Ping(ctx).Err()
	wasHealthy := s.healthy.Swap(err == nil)
	s.setHealthyGauge(err == nil)

	switch {
	case err != nil && wasHealthy:
		s.logger.Warn("redis health check failed", observability.Error(err))
	case err == nil && !wasHealthy:
		s.logger.Info("redis connection recovered")
	}
}

func (s *RedisStore) setHealthyGauge(healthy bool) {
	if s.metrics == nil {
		return
	}
	if healthy {
		s.metrics.healthy.Set(1)
		return
	}
	s.metrics.healthy.Set(0)
}

// Healthy reports the result of the last health check.
func (s *RedisStore) Healthy() bool {
	return s.healthy.Load()
}

// Hit implements Store using a Lua script for atomicity.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("context error before redis hit: %w", err)
	}

	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	result, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, windowMs).Int64Slice()
	s.observe("hit", start, err)
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return 0, 0, ErrClosed
		}
		return 0, 0, fmt.Errorf("redis hit script error: %w", err)
	}

	if len(result) != 2 {
		return 0, 0, fmt.Errorf("redis hit script returned %d values", len(result))
	}

	return result[0], time.Duration(result[1]) * time.Millisecond, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	s.observe("ping", start, err)
	return err
}

func (s *RedisStore) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.operationsTotal.WithLabelValues(op, status).Inc()
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.client.Close()
	})
	return err
}

// decorrelatedJitterBackoff implements AWS-style decorrelated jitter backoff.
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDuration < initial {
		maxDuration = initial
	}
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

// next returns the next backoff duration.
// Formula: sleep = min(cap, random_between(base, sleep * 3))
func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	minBackoff := float64(b.initial)
	maxBackoff := float64(b.current) * 3

	//nolint:gosec // weak random is acceptable for jitter
	backoff := minBackoff + float64(time.Now().UnixNano()%1000)/1000.0*(maxBackoff-minBackoff)

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}
