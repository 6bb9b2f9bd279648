package config

import (
	"github.com/vyrodovalexey/rentgw/internal/auth"
	"github.com/vyrodovalexey/rentgw/internal/authz"
	"github.com/vyrodovalexey/rentgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit/store"
	"github.com/vyrodovalexey/rentgw/internal/router"
)

// ToLogConfig returns the logger configuration.
func (c *GatewayConfig) ToLogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// ToTracerConfig returns the tracer configuration.
func (c *GatewayConfig) ToTracerConfig() observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:  c.Tracing.ServiceName,
		OTLPEndpoint: c.Tracing.OTLPEndpoint,
		SamplingRate: c.Tracing.SamplingRate,
		Enabled:      c.Tracing.Enabled,
	}
}

// ToAuthConfig returns the token verification configuration.
func (c *GatewayConfig) ToAuthConfig() auth.Config {
	a := c.Auth
	cfg := auth.Config{
		Secret:              a.Secret,
		Algorithm:           a.Algorithm,
		JWKSURL:             a.JWKSURL,
		JWKSRefreshInterval: a.JWKSRefreshInterval.Duration(),
		Issuer:              a.Issuer,
		Audience:            a.Audience,
		ClockSkew:           a.ClockSkew.Duration(),
	}
	cfg.ApplyDefaults()
	return cfg
}

// RoleGraph returns the configured role graph, or the default chain.
func (c *GatewayConfig) RoleGraph() map[authz.Role][]authz.Role {
	if len(c.Roles) == 0 {
		return authz.DefaultGraph()
	}

	graph := make(map[authz.Role][]authz.Role, len(c.Roles))
	for parent, children := range c.Roles {
		graph[authz.ParseRole(parent)] = authz.ParseRoles(children)
	}
	return graph
}

// ToRateLimitConfig returns the limiter configuration.
func (c *GatewayConfig) ToRateLimitConfig() ratelimit.Config {
	rl := c.RateLimit
	return ratelimit.Config{
		Max:           rl.Max,
		Window:        rl.Window.Duration(),
		SkipPaths:     rl.SkipPaths,
		TrustedCIDRs:  rl.TrustedCIDRs,
		SkipCacheSize: rl.SkipCacheSize,
		SkipCacheTTL:  rl.SkipCacheTTL.Duration(),
	}
}

// ToRedisConfig returns the Redis store configuration on top of the
// store defaults.
func (c *GatewayConfig) ToRedisConfig() *store.RedisConfig {
	r := c.RateLimit.Store.Redis
	cfg := store.DefaultRedisConfig()

	cfg.Address = r.Address
	cfg.Password = r.Password
	cfg.DB = r.DB
	cfg.RequireConnection = r.RequireConnection
	if r.KeyPrefix != "" {
		cfg.Prefix = r.KeyPrefix
	}
	if r.PoolSize > 0 {
		cfg.PoolSize = r.PoolSize
	}
	if r.DialTimeout > 0 {
		cfg.DialTimeout = r.DialTimeout.Duration()
	}
	if r.ReadTimeout > 0 {
		cfg.ReadTimeout = r.ReadTimeout.Duration()
	}
	if r.WriteTimeout > 0 {
		cfg.WriteTimeout = r.WriteTimeout.Duration()
	}
	if r.ConnectionRetries > 0 {
		cfg.ConnectionRetries = r.ConnectionRetries
	}
	if r.HealthCheck > 0 {
		cfg.HealthCheckInterval = r.HealthCheck.Duration()
	}

	return cfg
}

func (b BreakerConfig) toBreaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		ErrorThresholdPercent: b.ErrorThresholdPercent,
		VolumeThreshold:       b.VolumeThreshold,
		RollingWindow:         b.RollingWindow.Duration(),
		ResetTimeout:          b.ResetTimeout.Duration(),
		CallTimeout:           b.CallTimeout.Duration(),
		HalfOpenMaxRequests:   b.HalfOpenMaxRequests,
	}
}

// ToBreakerConfigs returns the breaker defaults merged over the package
// defaults and the raw per-target overrides.
func (c *GatewayConfig) ToBreakerConfigs() (circuitbreaker.Config, map[string]circuitbreaker.Config) {
	defaults := circuitbreaker.DefaultConfig().Merge(c.CircuitBreaker.Defaults.toBreaker())

	overrides := make(map[string]circuitbreaker.Config, len(c.CircuitBreaker.Targets))
	for target, b := range c.CircuitBreaker.Targets {
		overrides[target] = b.toBreaker()
	}

	return defaults, overrides
}

// RouteSpecs returns the route declarations.
func (c *GatewayConfig) RouteSpecs() []router.Spec {
	specs := make([]router.Spec, len(c.Routes))
	for i, r := range c.Routes {
		specs[i] = router.Spec{
			Name:         r.Name,
			Prefix:       r.Prefix,
			Methods:      r.Methods,
			Target:       r.Target,
			Upstream:     r.Upstream,
			AllowedRoles: r.AllowedRoles,
			Public:       r.Public,
			StripPrefix:  r.StripPrefix,
		}
	}
	return specs
}
