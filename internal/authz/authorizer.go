package authz

import (
	"context"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/audit"
	"github.com/vyrodovalexey/rentgw/internal/auth"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// Authorizer admits principals whose effective roles intersect a route's
// allowed roles.
type Authorizer struct {
	hierarchy *Hierarchy
	auditor   audit.Logger
	logger    observability.Logger
	metrics   *Metrics
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithAuditLogger sets the audit logger receiving denials.
func WithAuditLogger(l audit.Logger) Option {
	return func(a *Authorizer) {
		a.auditor = l
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(a *Authorizer) {
		a.logger = l
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Authorizer) {
		a.metrics = m
	}
}

// NewAuthorizer creates an Authorizer over h. A nil h selects the default
// hierarchy.
func NewAuthorizer(h *Hierarchy, opts ...Option) *Authorizer {
	if h == nil {
		h = DefaultHierarchy()
	}

	a := &Authorizer{
		hierarchy: h,
		auditor:   audit.NewNoopLogger(),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Hierarchy returns the role hierarchy.
func (a *Authorizer) Hierarchy() *Hierarchy {
	return a.hierarchy
}

// Authorize allows p when any allowed role is among p's effective roles.
// An empty allowed list admits any authenticated principal.
func (a *Authorizer) Authorize(p *auth.Principal, allowed []Role) error {
	if p == nil {
		return apierror.Unauthorized(apierror.ReasonMissingOrMalformedHeader)
	}
	if len(allowed) == 0 {
		return nil
	}

	effective := a.hierarchy.Effective(ParseRole(p.Role))
	for _, r := range allowed {
		if effective.Has(r) {
			return nil
		}
	}

	return apierror.Forbidden(apierror.ReasonInsufficientPermissions)
}

// AuthorizeRequest runs Authorize and records the decision. Denials are
// audited with the required and actual roles.
func (a *Authorizer) AuthorizeRequest(
	ctx context.Context,
	p *auth.Principal,
	allowed []Role,
	resource *audit.Resource,
) error {
	err := a.Authorize(p, allowed)

	role := ""
	if p != nil {
		role = p.Role
	}
	a.metrics.RecordDecision(err == nil, role)

	if apierror.KindOf(err) != apierror.KindForbidden {
		return err
	}

	if resource != nil {
		resource.RequiredRoles = roleNames(allowed)
	}
	a.auditor.LogAuthorization(ctx, audit.OutcomeDenied,
		&audit.Subject{ID: p.ID, Email: p.Email, Role: p.Role},
		resource,
	)
	a.logger.WithContext(ctx).Debug("authorization denied",
		observability.String("principal_id", p.ID),
		observability.String("role", p.Role),
		observability.Strings("required_roles", roleNames(allowed)),
	)

	return err
}

func roleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
