// Package store provides the shared counter stores behind the rate limiter.
//
// A store exposes a single atomic primitive, Hit, which increments the
// counter of a key and starts its window on the first hit. Every gateway
// instance pointed at the same Redis shares the same counters.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a windowed counter store.
type Store interface {
	// Hit atomically increments the counter for key. The first hit of a
	// window sets the key to expire after window. It returns the count
	// after the increment and the time left until the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
