package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// Claim names read from verified tokens.
const (
	ClaimEmail             = "email"
	ClaimRole              = "role"
	ClaimTokenVersion      = "tokenVersion"
	ClaimTokenVersionSnake = "token_version"
)

// Authenticator verifies bearer tokens.
type Authenticator struct {
	config    Config
	keys      []jwt.ParseOption
	validRole func(string) bool
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
	cancel    context.CancelFunc
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = l
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithRoleValidator rejects tokens whose role claim is not accepted by fn.
func WithRoleValidator(fn func(role string) bool) Option {
	return func(a *Authenticator) {
		a.validRole = fn
	}
}

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New creates an Authenticator. When a JWKS URL is configured the key set is
// fetched once and then refreshed in the background until Close.
func New(ctx context.Context, cfg Config, opts ...Option) (*Authenticator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Authenticator{
		config: cfg,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	if cfg.Secret != "" {
		alg := jwa.SignatureAlgorithm(strings.ToUpper(cfg.Algorithm))
		a.keys = append(a.keys, jwt.WithKey(alg, []byte(cfg.Secret)))
	}

	if cfg.JWKSURL != "" {
		set, err := a.registerJWKS(ctx)
		if err != nil {
			return nil, err
		}
		a.keys = append(a.keys, jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)))
	}

	return a, nil
}

// registerJWKS registers the key set URL with a refreshing cache.
func (a *Authenticator) registerJWKS(ctx context.Context) (jwk.Set, error) {
	cacheCtx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(cacheCtx)

	if err := cache.Register(a.config.JWKSURL, jwk.WithMinRefreshInterval(a.config.JWKSRefreshInterval)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register jwks url: %w", err)
	}

	// A failed initial fetch is retried lazily on the first lookup.
	if _, err := cache.Refresh(ctx, a.config.JWKSURL); err != nil {
		a.logger.Warn("initial jwks fetch failed",
			observability.String("url", a.config.JWKSURL),
			observability.Error(err),
		)
	}

	a.cancel = cancel
	return jwk.NewCachedSet(cache, a.config.JWKSURL), nil
}

// Close stops background key refresh.
func (a *Authenticator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Authenticate verifies the Authorization header value and returns the
// principal it names.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Principal, error) {
	start := time.Now()

	p, err := a.authenticate(header)
	if err != nil {
		apiErr := apierror.From(err)
		a.metrics.RecordFailure(apiErr.Reason, time.Since(start))
		a.logger.WithContext(ctx).Debug("authentication failed",
			observability.String("reason", apiErr.Reason),
			observability.String("cause", causeString(apiErr)),
		)
		return nil, err
	}

	a.metrics.RecordSuccess(time.Since(start))
	return p, nil
}

func (a *Authenticator) authenticate(header string) (*Principal, error) {
	raw, ok := ExtractBearer(header)
	if !ok {
		return nil, apierror.Unauthorized(apierror.ReasonMissingOrMalformedHeader)
	}

	opts := make([]jwt.ParseOption, 0, len(a.keys)+5)
	opts = append(opts, a.keys...)
	opts = append(opts,
		jwt.WithValidate(true),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(a.config.ClockSkew),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	)
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.config.Audience))
	}

	tok, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, apierror.UnauthorizedWithCause(apierror.ReasonInvalidToken, err)
	}

	return a.principalFromToken(tok)
}

// principalFromToken maps verified claims to a Principal.
func (a *Authenticator) principalFromToken(tok jwt.Token) (*Principal, error) {
	p := &Principal{ID: tok.Subject()}

	p.Email = stringClaim(tok, ClaimEmail)
	p.Role = stringClaim(tok, ClaimRole)

	if p.ID == "" || p.Email == "" || p.Role == "" {
		return nil, apierror.UnauthorizedWithCause(apierror.ReasonInvalidClaims,
			fmt.Errorf("sub, email and role claims are required"))
	}

	if a.validRole != nil && !a.validRole(p.Role) {
		return nil, apierror.UnauthorizedWithCause(apierror.ReasonInvalidClaims,
			fmt.Errorf("unknown role %q", p.Role))
	}

	version, err := tokenVersion(tok)
	if err != nil {
		return nil, apierror.UnauthorizedWithCause(apierror.ReasonInvalidClaims, err)
	}
	p.TokenVersion = version

	return p, nil
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// tokenVersion reads tokenVersion or token_version. A missing claim is 0.
func tokenVersion(tok jwt.Token) (int64, error) {
	v, ok := tok.Get(ClaimTokenVersion)
	if !ok {
		v, ok = tok.Get(ClaimTokenVersionSnake)
	}
	if !ok {
		return 0, nil
	}

	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("tokenVersion has unsupported type %T", v)
	}
}

func causeString(err *apierror.Error) string {
	if err.Cause == nil {
		return ""
	}
	return apierror.Sanitize(err.Cause.Error())
}
