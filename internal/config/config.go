package config

import (
	"time"

	"github.com/vyrodovalexey/rentgw/internal/security"
)

// Environments.
const (
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
	EnvironmentDevelopment = "development"
)

// Store types.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// GatewayConfig is the complete gateway configuration file.
type GatewayConfig struct {
	// Environment selects production behavior such as error masking.
	Environment string `yaml:"environment" json:"environment"`

	Server         ServerConfig         `yaml:"server" json:"server"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing" json:"tracing"`
	Auth           AuthConfig           `yaml:"auth" json:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit" json:"rateLimit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Errors         ErrorsConfig         `yaml:"errors" json:"errors"`
	Security       *security.Config     `yaml:"security,omitempty" json:"security,omitempty"`

	// Roles maps each role to the roles it directly includes. Empty means
	// the default ADMIN > PROPERTY_MANAGER > AGENT > RENTER chain.
	Roles map[string][]string `yaml:"roles,omitempty" json:"roles,omitempty"`

	// TrustedProxies are the peers whose X-Forwarded-For header is honored.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`

	Routes []RouteConfig `yaml:"routes" json:"routes"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address           string   `yaml:"address" json:"address"`
	ReadTimeout       Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout,omitempty" json:"readHeaderTimeout,omitempty"`
	WriteTimeout      Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout       Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	// MaxBodyBytes bounds inbound request bodies.
	MaxBodyBytes int64 `yaml:"maxBodyBytes,omitempty" json:"maxBodyBytes,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret              string   `yaml:"secret,omitempty" json:"-"`
	Algorithm           string   `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	JWKSURL             string   `yaml:"jwksUrl,omitempty" json:"jwksUrl,omitempty"`
	JWKSRefreshInterval Duration `yaml:"jwksRefreshInterval,omitempty" json:"jwksRefreshInterval,omitempty"`
	Issuer              string   `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience            string   `yaml:"audience,omitempty" json:"audience,omitempty"`
	ClockSkew           Duration `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`
}

// RateLimitConfig configures the distributed limiter.
type RateLimitConfig struct {
	Max           int64    `yaml:"max" json:"max"`
	Window        Duration `yaml:"window" json:"window"`
	SkipPaths     []string `yaml:"skipPaths,omitempty" json:"skipPaths,omitempty"`
	TrustedCIDRs  []string `yaml:"trustedCidrs,omitempty" json:"trustedCidrs,omitempty"`
	SkipCacheSize int      `yaml:"skipCacheSize,omitempty" json:"skipCacheSize,omitempty"`
	SkipCacheTTL  Duration `yaml:"skipCacheTtl,omitempty" json:"skipCacheTtl,omitempty"`

	// DegradedLogInterval throttles the store outage warning.
	DegradedLogInterval Duration `yaml:"degradedLogInterval,omitempty" json:"degradedLogInterval,omitempty"`

	Store StoreConfig `yaml:"store" json:"store"`
}

// StoreConfig selects the counter store.
type StoreConfig struct {
	// Type is "redis" or "memory".
	Type string `yaml:"type" json:"type"`

	// CleanupInterval is the memory store janitor period.
	CleanupInterval Duration `yaml:"cleanupInterval,omitempty" json:"cleanupInterval,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the shared Redis store.
type RedisConfig struct {
	Address           string   `yaml:"address" json:"address"`
	Password          string   `yaml:"password,omitempty" json:"-"`
	DB                int      `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix         string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize          int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	DialTimeout       Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout       Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout      Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	ConnectionRetries int      `yaml:"connectionRetries,omitempty" json:"connectionRetries,omitempty"`
	HealthCheck       Duration `yaml:"healthCheckInterval,omitempty" json:"healthCheckInterval,omitempty"`

	// RequireConnection makes startup fail when Redis is unreachable.
	RequireConnection bool `yaml:"requireConnection,omitempty" json:"requireConnection,omitempty"`
}

// CircuitBreakerConfig holds the breaker defaults and per-target overrides.
type CircuitBreakerConfig struct {
	Defaults BreakerConfig            `yaml:"defaults" json:"defaults"`
	Targets  map[string]BreakerConfig `yaml:"targets,omitempty" json:"targets,omitempty"`
}

// BreakerConfig configures one breaker. Zero fields inherit the defaults.
type BreakerConfig struct {
	ErrorThresholdPercent float64  `yaml:"errorThresholdPercent,omitempty" json:"errorThresholdPercent,omitempty"`
	VolumeThreshold       int      `yaml:"volumeThreshold,omitempty" json:"volumeThreshold,omitempty"`
	RollingWindow         Duration `yaml:"rollingWindow,omitempty" json:"rollingWindow,omitempty"`
	ResetTimeout          Duration `yaml:"resetTimeout,omitempty" json:"resetTimeout,omitempty"`
	CallTimeout           Duration `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty"`
	HalfOpenMaxRequests   int      `yaml:"halfOpenMaxRequests,omitempty" json:"halfOpenMaxRequests,omitempty"`
}

// ErrorsConfig configures the error transformer.
type ErrorsConfig struct {
	// Production masks internal details. Defaults to true when Environment
	// is "production".
	Production *bool `yaml:"production,omitempty" json:"production,omitempty"`

	// AlertThreshold is the number of identical failures per window that
	// raises a security alert.
	AlertThreshold int      `yaml:"alertThreshold,omitempty" json:"alertThreshold,omitempty"`
	AlertWindow    Duration `yaml:"alertWindow,omitempty" json:"alertWindow,omitempty"`
}

// RouteConfig declares one routed target.
type RouteConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Prefix       string   `yaml:"prefix" json:"prefix"`
	Methods      []string `yaml:"methods,omitempty" json:"methods,omitempty"`
	Target       string   `yaml:"target" json:"target"`
	Upstream     string   `yaml:"upstream" json:"upstream"`
	AllowedRoles []string `yaml:"allowedRoles,omitempty" json:"allowedRoles,omitempty"`
	Public       bool     `yaml:"public,omitempty" json:"public,omitempty"`
	StripPrefix  bool     `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
}

// Configuration defaults.
const (
	DefaultAddress           = ":8080"
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxBodyBytes      = 10 << 20
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "rentgw"
	DefaultServiceName       = "rentgw"
	DefaultAlertThreshold    = 50
	DefaultAlertWindow       = 5 * time.Minute
	DefaultCleanupInterval   = time.Minute
)

// DefaultConfig returns a configuration with every default applied and an
// in-memory store.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		Environment: EnvironmentDevelopment,
		Metrics:     MetricsConfig{Enabled: true},
		RateLimit: RateLimitConfig{
			Store: StoreConfig{Type: StoreMemory},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *GatewayConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	c.applyServerDefaults()

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}

	c.applyRateLimitDefaults()

	if c.Errors.Production == nil {
		production := c.IsProduction()
		c.Errors.Production = &production
	}
	if c.Errors.AlertThreshold == 0 {
		c.Errors.AlertThreshold = DefaultAlertThreshold
	}
	if c.Errors.AlertWindow == 0 {
		c.Errors.AlertWindow = Duration(DefaultAlertWindow)
	}

	if c.Security == nil {
		c.Security = security.DefaultConfig()
	}
}

func (c *GatewayConfig) applyServerDefaults() {
	s := &c.Server
	if s.Address == "" {
		s.Address = DefaultAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if s.ReadHeaderTimeout == 0 {
		s.ReadHeaderTimeout = Duration(DefaultReadHeaderTimeout)
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func (c *GatewayConfig) applyRateLimitDefaults() {
	rl := c.ToRateLimitConfig()
	rl.ApplyDefaults()

	c.RateLimit.Max = rl.Max
	c.RateLimit.Window = Duration(rl.Window)
	c.RateLimit.SkipPaths = rl.SkipPaths
	c.RateLimit.SkipCacheSize = rl.SkipCacheSize
	c.RateLimit.SkipCacheTTL = Duration(rl.SkipCacheTTL)

	st := &c.RateLimit.Store
	if st.Type == "" {
		st.Type = StoreRedis
	}
	if st.CleanupInterval == 0 {
		st.CleanupInterval = Duration(DefaultCleanupInterval)
	}
	if st.Type == StoreRedis && st.Redis.Address == "" {
		st.Redis.Address = "localhost:6379"
	}
}

// IsProduction reports whether the gateway runs in production.
func (c *GatewayConfig) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// ProductionErrors reports whether error details are masked.
func (c *GatewayConfig) ProductionErrors() bool {
	if c.Errors.Production != nil {
		return *c.Errors.Production
	}
	return c.IsProduction()
}
