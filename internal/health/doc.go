// Package health serves the gateway liveness and readiness probes.
//
// Liveness reports that the process is up. Readiness runs the registered
// dependency checks: a failing critical check or a draining gateway makes
// the instance unready, a failing non-critical check reports it degraded.
package health
