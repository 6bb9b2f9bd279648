// Package pipeline runs the ordered admission stages of a request over a
// per-request RequestContext.
package pipeline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/rentgw/internal/auth"
	"github.com/vyrodovalexey/rentgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/rentgw/internal/proxy"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit"
	"github.com/vyrodovalexey/rentgw/internal/router"
)

// AuthenticateFunc verifies an Authorization header.
type AuthenticateFunc func(ctx context.Context, header string) (*auth.Principal, error)

// RequestContext is the private state of one request. It is created when
// the request enters the gateway and never shared with another request.
type RequestContext struct {
	CorrelationID string
	RequestID     string
	StartTime     time.Time
	Request       *http.Request
	ClientAddr    string
	Route         *router.Route

	// Principal is set once authentication succeeds.
	Principal *auth.Principal

	// RateLimit is the limiter decision, nil when the limiter did not run.
	RateLimit *ratelimit.Decision

	// Breaker is the state of the target breaker after the downstream call.
	Breaker *circuitbreaker.Snapshot

	// Response is the downstream response to relay.
	Response *proxy.Response

	authOnce sync.Once
	authErr  error
}

// Authenticate verifies the request's Authorization header once. Later
// calls return the memoized outcome.
func (rc *RequestContext) Authenticate(ctx context.Context, fn AuthenticateFunc) (*auth.Principal, error) {
	rc.authOnce.Do(func() {
		p, err := fn(ctx, auth.HeaderFrom(rc.Request))
		if err != nil {
			rc.authErr = err
			return
		}
		rc.Principal = p
	})
	return rc.Principal, rc.authErr
}

// Authenticated reports whether authentication ran and succeeded.
func (rc *RequestContext) Authenticated() bool {
	return rc.Principal != nil
}

// PrincipalID returns the principal id, empty when unauthenticated.
func (rc *RequestContext) PrincipalID() string {
	if rc.Principal == nil {
		return ""
	}
	return rc.Principal.ID
}

// Elapsed returns the time since the request started.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

type contextKey struct{}

// NewContext returns ctx carrying rc.
func NewContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the RequestContext carried by ctx.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}
