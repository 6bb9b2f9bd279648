// Package circuitbreaker guards downstream targets with one circuit breaker
// per logical target name.
//
// The closed/open/half-open state machine is sony/gobreaker. Each breaker
// adds a hard per-call timeout, maps rejections to CircuitOpen errors and
// publishes its transitions on an EventBus.
package circuitbreaker

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultErrorThresholdPercent = 50
	DefaultVolumeThreshold       = 10
	DefaultRollingWindow         = 10 * time.Second
	DefaultResetTimeout          = 30 * time.Second
	DefaultCallTimeout           = 10 * time.Second
	DefaultHalfOpenMaxRequests   = 1
)

// Config holds the settings of a breaker.
type Config struct {
	// ErrorThresholdPercent trips the breaker when the failure rate of the
	// current window exceeds it.
	ErrorThresholdPercent float64

	// VolumeThreshold is the minimum number of calls in a window before the
	// failure rate is evaluated.
	VolumeThreshold int

	// RollingWindow is the length of the fixed sampling window in the
	// closed state. Counters reset at each window boundary.
	RollingWindow time.Duration

	// ResetTimeout is how long the breaker stays open before letting a
	// trial call through.
	ResetTimeout time.Duration

	// CallTimeout bounds every call. Zero disables the timeout.
	CallTimeout time.Duration

	// HalfOpenMaxRequests is the number of trial calls allowed while
	// half-open. That many consecutive successes close the breaker.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		ErrorThresholdPercent: DefaultErrorThresholdPercent,
		VolumeThreshold:       DefaultVolumeThreshold,
		RollingWindow:         DefaultRollingWindow,
		ResetTimeout:          DefaultResetTimeout,
		CallTimeout:           DefaultCallTimeout,
		HalfOpenMaxRequests:   DefaultHalfOpenMaxRequests,
	}
}

// Merge returns c with every non-zero field of override applied.
func (c Config) Merge(override Config) Config {
	if override.ErrorThresholdPercent != 0 {
		c.ErrorThresholdPercent = override.ErrorThresholdPercent
	}
	if override.VolumeThreshold != 0 {
		c.VolumeThreshold = override.VolumeThreshold
	}
	if override.RollingWindow != 0 {
		c.RollingWindow = override.RollingWindow
	}
	if override.ResetTimeout != 0 {
		c.ResetTimeout = override.ResetTimeout
	}
	if override.CallTimeout != 0 {
		c.CallTimeout = override.CallTimeout
	}
	if override.HalfOpenMaxRequests != 0 {
		c.HalfOpenMaxRequests = override.HalfOpenMaxRequests
	}
	return c
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ErrorThresholdPercent <= 0 || c.ErrorThresholdPercent >= 100 {
		return errors.New("errorThresholdPercent must be between 0 and 100")
	}
	if c.VolumeThreshold < 1 {
		return errors.New("volumeThreshold must be at least 1")
	}
	if c.RollingWindow < 0 {
		return errors.New("rollingWindow must be non-negative")
	}
	if c.ResetTimeout <= 0 {
		return errors.New("resetTimeout must be positive")
	}
	if c.CallTimeout < 0 {
		return errors.New("callTimeout must be non-negative")
	}
	if c.HalfOpenMaxRequests < 1 {
		return errors.New("halfOpenMaxRequests must be at least 1")
	}
	return nil
}

// safeUint32 converts a non-negative int to uint32, saturating.
func safeUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
