package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrUpstreamUnavailable indicates the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrResponseTooLarge indicates the upstream response exceeded the limit.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// ProxyError is a transport-level failure calling a target.
type ProxyError struct {
	Op     string
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy error [%s] target=%s: %v", e.Op, e.Target, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Target     string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("target %s responded %d", e.Target, e.StatusCode)
}

// IsStatusError reports whether err carries an upstream response.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
