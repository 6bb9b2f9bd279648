package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/audit"
	"github.com/vyrodovalexey/rentgw/internal/auth"
	"github.com/vyrodovalexey/rentgw/internal/authz"
	"github.com/vyrodovalexey/rentgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/rentgw/internal/config"
	"github.com/vyrodovalexey/rentgw/internal/health"
	"github.com/vyrodovalexey/rentgw/internal/middleware"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/pipeline"
	"github.com/vyrodovalexey/rentgw/internal/proxy"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit/store"
	"github.com/vyrodovalexey/rentgw/internal/router"
)

// Health check names.
const (
	checkStore    = "ratelimit_store"
	checkBreakers = "circuit_breakers"
)

// breakerEventBuffer is the subscriber buffer for breaker transitions.
const breakerEventBuffer = 64

// State is the process-wide set of admission components. It is built once
// at startup and shared read-only by every request.
type State struct {
	Config *config.GatewayConfig

	Logger  observability.Logger
	Metrics *observability.Metrics

	Hierarchy     *authz.Hierarchy
	Authenticator *auth.Authenticator
	Authorizer    *authz.Authorizer
	Audit         audit.Logger

	Store    store.Store
	Limiter  *ratelimit.Limiter
	Breakers *circuitbreaker.Registry
	Proxy    *proxy.Client

	Patterns    *apierror.PatternCounter
	Transformer *apierror.Transformer

	Health   *health.Checker
	Routes   *router.Table
	ClientIP *middleware.ClientIPExtractor
	Pipeline *pipeline.Pipeline

	middlewareMetrics *middleware.Metrics
	ownsStore         bool
}

// Option configures NewState.
type Option func(*stateOptions)

type stateOptions struct {
	logger    observability.Logger
	metrics   *observability.Metrics
	store     store.Store
	transport http.RoundTripper
	version   string
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(o *stateOptions) {
		o.logger = l
	}
}

// WithMetrics sets the metrics owning the registry every component uses.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *stateOptions) {
		o.metrics = m
	}
}

// WithStore uses s instead of opening the configured store. The caller
// keeps ownership of s.
func WithStore(s store.Store) Option {
	return func(o *stateOptions) {
		o.store = s
	}
}

// WithUpstreamTransport sets the round tripper used for downstream calls.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(o *stateOptions) {
		o.transport = rt
	}
}

// WithVersion sets the version reported by health probes.
func WithVersion(v string) Option {
	return func(o *stateOptions) {
		o.version = v
	}
}

// NewState builds every admission component from cfg. Defaults are applied
// to cfg and it is validated first.
func NewState(ctx context.Context, cfg *config.GatewayConfig, opts ...Option) (*State, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	cfg.ApplyDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &stateOptions{
		logger:  observability.NopLogger(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	s := &State{
		Config:  cfg,
		Logger:  o.logger,
		Metrics: o.metrics,
	}

	ns := cfg.Metrics.Namespace
	reg := o.metrics.Registry()

	if err := s.buildIdentity(ctx, ns, reg); err != nil {
		s.Close()
		return nil, err
	}

	st := o.store
	if st == nil {
		opened, err := OpenStore(ctx, cfg, o.logger, store.NewMetrics(ns, reg))
		if err != nil {
			s.Close()
			return nil, err
		}
		st = opened
		s.ownsStore = true
	}
	s.Store = st

	if err := s.buildAdmission(ns, reg, o.transport); err != nil {
		s.Close()
		return nil, err
	}

	s.Health = health.NewChecker(o.version, health.WithMetrics(health.NewMetrics(ns, reg)))
	s.Health.RegisterCheck(checkStore, health.PingCheck(st), false)
	s.Health.RegisterCheck(checkBreakers, health.BreakerCheck(s.Breakers), false)

	s.ClientIP = middleware.NewClientIPExtractor(cfg.TrustedProxies)
	s.middlewareMetrics = middleware.NewMetrics(ns, reg)

	s.Pipeline = pipeline.New(s.stages(), pipeline.WithMetrics(pipeline.NewMetrics(ns, reg)))

	return s, nil
}

// buildIdentity builds the role hierarchy, token verification, audit and
// authorization components.
func (s *State) buildIdentity(ctx context.Context, ns string, reg prometheus.Registerer) error {
	h, err := authz.NewHierarchy(s.Config.RoleGraph())
	if err != nil {
		return fmt.Errorf("invalid role graph: %w", err)
	}
	s.Hierarchy = h

	s.Audit = audit.NewLogger(s.Logger, audit.WithLoggerMetrics(audit.NewMetrics(ns, reg)))

	authn, err := auth.New(ctx, s.Config.ToAuthConfig(),
		auth.WithLogger(s.Logger),
		auth.WithMetrics(auth.NewMetrics(ns, reg)),
		auth.WithRoleValidator(h.Valid),
	)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}
	s.Authenticator = authn

	s.Authorizer = authz.NewAuthorizer(h,
		authz.WithAuditLogger(s.Audit),
		authz.WithLogger(s.Logger),
		authz.WithMetrics(authz.NewMetrics(ns, reg)),
	)

	routes, err := router.NewTable(s.Config.RouteSpecs(), h)
	if err != nil {
		return fmt.Errorf("invalid routes: %w", err)
	}
	s.Routes = routes

	return nil
}

// buildAdmission builds the limiter, breakers, downstream client and error
// transformer.
func (s *State) buildAdmission(ns string, reg prometheus.Registerer, transport http.RoundTripper) error {
	cfg := s.Config

	limiterOpts := []ratelimit.Option{
		ratelimit.WithLogger(s.Logger),
		ratelimit.WithMetrics(ratelimit.NewMetrics(ns, reg)),
	}
	if d := cfg.RateLimit.DegradedLogInterval.Duration(); d > 0 {
		limiterOpts = append(limiterOpts, ratelimit.WithDegradedLogInterval(d))
	}
	limiter, err := ratelimit.NewLimiter(cfg.ToRateLimitConfig(), s.Store, limiterOpts...)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	s.Limiter = limiter

	cbMetrics := circuitbreaker.NewMetrics(ns, reg)
	defaults, overrides := cfg.ToBreakerConfigs()
	breakers, err := circuitbreaker.NewRegistry(defaults, overrides,
		circuitbreaker.WithRegistryLogger(s.Logger),
		circuitbreaker.WithRegistryMetrics(cbMetrics),
		circuitbreaker.WithEventBus(circuitbreaker.NewEventBus(cbMetrics)),
	)
	if err != nil {
		return fmt.Errorf("failed to create circuit breakers: %w", err)
	}
	s.Breakers = breakers
	for _, target := range s.Routes.Targets() {
		breakers.Breaker(target)
	}

	proxyOpts := []proxy.ClientOption{
		proxy.WithClientLogger(s.Logger),
		proxy.WithClientMetrics(proxy.NewMetrics(ns, reg)),
	}
	if transport != nil {
		proxyOpts = append(proxyOpts, proxy.WithTransport(transport))
	}
	s.Proxy = proxy.NewClient(proxyOpts...)

	errMetrics := apierror.NewMetrics(ns, reg)
	s.Patterns = apierror.NewPatternCounter(
		cfg.Errors.AlertThreshold,
		cfg.Errors.AlertWindow.Duration(),
		apierror.WithPatternAuditLogger(s.Audit),
		apierror.WithPatternMetrics(errMetrics),
	)
	s.Transformer = apierror.NewTransformer(
		apierror.WithProduction(cfg.ProductionErrors()),
		apierror.WithPatternCounter(s.Patterns),
		apierror.WithTransformerLogger(s.Logger),
		apierror.WithTransformerMetrics(errMetrics),
	)

	return nil
}

// Start runs the background workers until ctx is done: the error pattern
// sweeper and the breaker transition subscriber.
func (s *State) Start(ctx context.Context) {
	go s.Patterns.Run(ctx)
	s.Breakers.Events().SubscribeFunc(ctx, breakerEventBuffer, func(e circuitbreaker.Event) {
		s.onBreakerEvent(ctx, e)
	})
}

// onBreakerEvent audits breakers opening.
func (s *State) onBreakerEvent(ctx context.Context, e circuitbreaker.Event) {
	if e.Type != circuitbreaker.EventOpened {
		return
	}
	s.Audit.LogSecurity(ctx, audit.ActionCircuitOpened, nil, map[string]interface{}{
		"target":     e.Target,
		"from_state": e.From.String(),
		"opened_at":  e.At,
	})
}

// Close releases every component. It is safe to call on a partially built
// State.
func (s *State) Close() {
	if s.Authenticator != nil {
		s.Authenticator.Close()
	}
	if s.Breakers != nil {
		s.Breakers.Close()
	}
	if s.ownsStore && s.Store != nil {
		if err := s.Store.Close(); err != nil {
			s.Logger.Warn("failed to close counter store", observability.Error(err))
		}
	}
}
