package store

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired memory entries are swept.
const DefaultCleanupInterval = time.Minute

// entry represents a counter with expiration.
type entry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. Counters are not shared
// between gateway instances.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]*entry
	now     func() time.Time
	done    chan struct{}
	closeMu sync.Once
	closed  bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a new in-memory store sweeping expired entries
// every cleanupInterval. A non-positive interval selects the default.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.startCleanup(cleanupInterval)

	return s
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, ErrClosed
	}

	e, ok := s.data[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &entry{expiresAt: now.Add(window)}
		s.data[key] = e
	}
	e.count++

	return e.count, e.expiresAt.Sub(now), nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of live and not yet swept entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes expired entries.
func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, key)
		}
	}
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.closeMu.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.data = make(map[string]*entry)
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}
