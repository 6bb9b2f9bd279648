// Package gateway assembles the request-admission pipeline and serves it.
//
// NewState builds every component once from the configuration. Handler
// returns the HTTP handler that runs each routed request through the rate
// limit, authentication and authorization stages before calling the
// downstream target under its circuit breaker. Server owns the listener and
// graceful shutdown.
package gateway
