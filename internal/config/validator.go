package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/vyrodovalexey/rentgw/internal/authz"
	"github.com/vyrodovalexey/rentgw/internal/router"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns every problem found.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(cfg)
	v.validateServer(&cfg.Server)
	v.validateLogging(&cfg.Logging)
	v.validateTracing(&cfg.Tracing)
	v.validateAuth(cfg)
	v.validateRateLimit(cfg)
	v.validateCircuitBreaker(cfg)
	v.validateErrors(&cfg.Errors)
	v.validateProxies(cfg.TrustedProxies)
	v.validateRoutes(cfg)

	if cfg.Security != nil {
		if err := cfg.Security.Validate(); err != nil {
			v.addError("security", err.Error())
		}
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateRoot(cfg *GatewayConfig) {
	switch cfg.Environment {
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment:
	default:
		v.addError("environment", fmt.Sprintf("unknown environment %q", cfg.Environment))
	}
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "address is required")
	}
	durations := map[string]Duration{
		"server.readTimeout":       s.ReadTimeout,
		"server.readHeaderTimeout": s.ReadHeaderTimeout,
		"server.writeTimeout":      s.WriteTimeout,
		"server.idleTimeout":       s.IdleTimeout,
		"server.shutdownTimeout":   s.ShutdownTimeout,
	}
	for path, d := range durations {
		if d < 0 {
			v.addError(path, "must be non-negative")
		}
	}
	if s.MaxBodyBytes <= 0 {
		v.addError("server.maxBodyBytes", "must be positive")
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("invalid level %q", l.Level))
	}
	switch l.Format {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("invalid format %q", l.Format))
	}
}

func (v *Validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
}

func (v *Validator) validateAuth(cfg *GatewayConfig) {
	a := cfg.ToAuthConfig()
	if err := a.Validate(); err != nil {
		v.addError("auth", err.Error())
	}
}

func (v *Validator) validateRateLimit(cfg *GatewayConfig) {
	rl := cfg.ToRateLimitConfig()
	if err := rl.Validate(); err != nil {
		v.addError("rateLimit", err.Error())
	}
	if cfg.RateLimit.DegradedLogInterval < 0 {
		v.addError("rateLimit.degradedLogInterval", "must be non-negative")
	}

	st := cfg.RateLimit.Store
	switch st.Type {
	case StoreMemory:
	case StoreRedis:
		if st.Redis.Address == "" {
			v.addError("rateLimit.store.redis.address", "address is required")
		}
		if st.Redis.DB < 0 {
			v.addError("rateLimit.store.redis.db", "must be non-negative")
		}
	default:
		v.addError("rateLimit.store.type", fmt.Sprintf("unknown store type %q", st.Type))
	}
}

func (v *Validator) validateCircuitBreaker(cfg *GatewayConfig) {
	defaults, overrides := cfg.ToBreakerConfigs()
	if err := defaults.Validate(); err != nil {
		v.addError("circuitBreaker.defaults", err.Error())
		return
	}
	for target, o := range overrides {
		if err := defaults.Merge(o).Validate(); err != nil {
			v.addError("circuitBreaker.targets."+target, err.Error())
		}
	}
}

func (v *Validator) validateErrors(e *ErrorsConfig) {
	if e.AlertThreshold < 1 {
		v.addError("errors.alertThreshold", "must be at least 1")
	}
	if e.AlertWindow <= 0 {
		v.addError("errors.alertWindow", "must be positive")
	}
}

func (v *Validator) validateProxies(proxies []string) {
	for i, p := range proxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err == nil {
			continue
		}
		v.addError(fmt.Sprintf("trustedProxies[%d]", i), fmt.Sprintf("invalid address or CIDR %q", p))
	}
}

func (v *Validator) validateRoutes(cfg *GatewayConfig) {
	h, err := authz.NewHierarchy(cfg.RoleGraph())
	if err != nil {
		v.addError("roles", err.Error())
		return
	}
	if len(cfg.Routes) == 0 {
		v.addError("routes", "at least one route is required")
		return
	}
	if _, err := router.NewTable(cfg.RouteSpecs(), h); err != nil {
		v.addError("routes", err.Error())
	}
}
