// Package ratelimit enforces the per-caller request quota shared by every
// gateway instance.
//
// Each caller (client address plus principal) gets at most Max requests per
// fixed Window. Counting is delegated to a store.Store whose Hit is atomic,
// so concurrent requests across instances never admit more than Max. When
// the store is unreachable the limiter fails open.
package ratelimit

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultMax           = 100
	DefaultWindow        = time.Minute
	DefaultSkipCacheSize = 10_000
	DefaultSkipCacheTTL  = 5 * time.Minute
)

// DefaultSkipPaths are the infrastructure endpoints never rate limited.
var DefaultSkipPaths = []string{"/health", "/ready", "/metrics"}

// Config configures the limiter.
type Config struct {
	// Max is the number of requests admitted per window.
	Max int64

	// Window is the fixed window length.
	Window time.Duration

	// SkipPaths bypass the limiter. A path matches itself and its sub-paths.
	SkipPaths []string

	// TrustedCIDRs bypass the limiter. Bare addresses are accepted.
	TrustedCIDRs []string

	// SkipCacheSize bounds the skip-decision cache.
	SkipCacheSize int

	// SkipCacheTTL is how long a skip decision is cached.
	SkipCacheTTL time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		Max:           DefaultMax,
		Window:        DefaultWindow,
		SkipPaths:     append([]string(nil), DefaultSkipPaths...),
		SkipCacheSize: DefaultSkipCacheSize,
		SkipCacheTTL:  DefaultSkipCacheTTL,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Max == 0 {
		c.Max = DefaultMax
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.SkipPaths == nil {
		c.SkipPaths = append([]string(nil), DefaultSkipPaths...)
	}
	if c.SkipCacheSize == 0 {
		c.SkipCacheSize = DefaultSkipCacheSize
	}
	if c.SkipCacheTTL == 0 {
		c.SkipCacheTTL = DefaultSkipCacheTTL
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Max <= 0 {
		return errors.New("rate limit max must be positive")
	}
	if c.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if c.SkipCacheSize < 0 {
		return errors.New("skip cache size must be non-negative")
	}
	if _, err := parseCIDRs(c.TrustedCIDRs); err != nil {
		return err
	}
	return nil
}
