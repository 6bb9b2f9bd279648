package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/audit"
	"github.com/vyrodovalexey/rentgw/internal/auth"
	"github.com/vyrodovalexey/rentgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/rentgw/internal/middleware"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/pipeline"
	"github.com/vyrodovalexey/rentgw/internal/proxy"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit"
)

// Stage names.
const (
	StageRateLimit    = "ratelimit"
	StageAuthenticate = "authenticate"
	StageAuthorize    = "authorize"
	StageInvoke       = "invoke"
)

// stages returns the admission stages in execution order.
func (s *State) stages() []pipeline.Stage {
	return []pipeline.Stage{
		pipeline.NewStage(StageRateLimit, s.rateLimit),
		pipeline.NewStage(StageAuthenticate, s.authenticate),
		pipeline.NewStage(StageAuthorize, s.authorize),
		pipeline.NewStage(StageInvoke, s.invoke),
	}
}

func resourceOf(rc *pipeline.RequestContext) *audit.Resource {
	res := &audit.Resource{
		Path:   rc.Request.URL.Path,
		Method: rc.Request.Method,
	}
	if rc.Route != nil {
		res.Target = rc.Route.Target
	}
	return res
}

func subjectOf(rc *pipeline.RequestContext) *audit.Subject {
	sub := &audit.Subject{IPAddress: rc.ClientAddr}
	if p := rc.Principal; p != nil {
		sub.ID = p.ID
		sub.Email = p.Email
		sub.Role = p.Role
	}
	return sub
}

// rateLimit counts the request against the caller's window. Callers are
// keyed by client address and, when a token is presented, principal ID.
func (s *State) rateLimit(ctx context.Context, rc *pipeline.RequestContext) error {
	if s.Limiter.Skip(rc.ClientAddr, rc.Request.URL.Path) {
		rc.RateLimit = ratelimit.SkippedDecision()
		return nil
	}

	if auth.HeaderFrom(rc.Request) != "" {
		// The outcome is memoized for the authenticate stage.
		_, _ = rc.Authenticate(ctx, s.Authenticator.Authenticate)
	}

	decision, err := s.Limiter.Allow(ctx, ratelimit.CallerKey(rc.ClientAddr, rc.PrincipalID()))
	rc.RateLimit = decision
	if err != nil {
		s.Audit.LogSecurity(ctx, audit.ActionRateLimitExceeded, subjectOf(rc), map[string]interface{}{
			"path":                rc.Request.URL.Path,
			"method":              rc.Request.Method,
			"limit":               decision.Limit,
			"retry_after_seconds": int64(decision.RetryAfter.Seconds()),
		})
		return err
	}
	return nil
}

// authenticate requires a verified principal on non-public routes.
func (s *State) authenticate(ctx context.Context, rc *pipeline.RequestContext) error {
	if rc.Route.Public {
		return nil
	}

	_, err := rc.Authenticate(ctx, s.Authenticator.Authenticate)
	if err != nil {
		s.Audit.LogAuthentication(ctx, audit.OutcomeFailure, subjectOf(rc), resourceOf(rc), apierror.From(err).Reason)
		return err
	}

	s.Audit.LogAuthentication(ctx, audit.OutcomeSuccess, subjectOf(rc), resourceOf(rc), "")
	return nil
}

// authorize checks the principal's effective roles against the route.
func (s *State) authorize(ctx context.Context, rc *pipeline.RequestContext) error {
	if rc.Route.Public {
		return nil
	}
	return s.Authorizer.AuthorizeRequest(ctx, rc.Principal, rc.Route.AllowedRoles, resourceOf(rc))
}

// invoke calls the route's target under its breaker. Non-2xx responses
// count as breaker failures and are still relayed.
func (s *State) invoke(ctx context.Context, rc *pipeline.RequestContext) error {
	body, err := readBody(rc.Request, s.Config.Server.MaxBodyBytes)
	if err != nil {
		return err
	}

	route := rc.Route
	out := &proxy.Outbound{
		Route:         route,
		Request:       rc.Request,
		Body:          body,
		CorrelationID: rc.CorrelationID,
		RequestID:     rc.RequestID,
		ClientIP:      rc.ClientAddr,
		Principal:     rc.Principal,
	}

	resp, err := circuitbreaker.Invoke(ctx, s.Breakers, route.Target, func(ctx context.Context) (*proxy.Response, error) {
		return s.Proxy.Do(ctx, out)
	})

	if b, ok := s.Breakers.Get(route.Target); ok {
		snap := b.Snapshot()
		rc.Breaker = &snap
	}

	switch {
	case err == nil:
		rc.Response = resp
		return nil

	case proxy.IsStatusError(err) && resp != nil:
		rc.Response = resp
		return nil

	case errors.Is(err, proxy.ErrUpstreamUnavailable):
		return apierror.CircuitOpen(route.Target, apierror.ReasonUpstreamUnavailable, err)
	}

	s.Logger.WithContext(ctx).Debug("downstream call failed",
		observability.String("target", route.Target),
		observability.Duration("elapsed", rc.Elapsed()),
		observability.Error(err),
	)
	return err
}

// readBody buffers the request body so an abandoned downstream call never
// reads from the inbound connection.
func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if errors.Is(err, middleware.ErrBodyTooLarge) {
			return nil, middleware.BodyTooLarge(maxBytes)
		}
		return nil, apierror.Validation("Failed to read request body", nil)
	}
	return body, nil
}
