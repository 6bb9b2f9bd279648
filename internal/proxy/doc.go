// Package proxy forwards admitted requests to downstream targets.
//
// The client buffers the upstream response so a call can be abandoned by
// its circuit breaker at any point without leaving a half-written response.
// Non-2xx responses are returned together with a StatusError: the breaker
// counts them as failures while the gateway still relays the response.
package proxy
