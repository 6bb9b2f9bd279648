package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config defaults.
const (
	DefaultAlgorithm           = "HS256"
	DefaultClockSkew           = 30 * time.Second
	DefaultJWKSRefreshInterval = 15 * time.Minute
)

// Config configures token verification.
type Config struct {
	// Secret is the shared HMAC key. Either Secret or JWKSURL is required.
	Secret string

	// Algorithm is the HMAC algorithm used with Secret.
	Algorithm string

	// JWKSURL is the key set of the external verification service.
	JWKSURL string

	// JWKSRefreshInterval is the minimum interval between key set refreshes.
	JWKSRefreshInterval time.Duration

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	// ClockSkew is the tolerated clock drift for exp/nbf/iat.
	ClockSkew time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = DefaultClockSkew
	}
	if c.JWKSRefreshInterval == 0 {
		c.JWKSRefreshInterval = DefaultJWKSRefreshInterval
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("auth config is required")
	}
	if c.Secret == "" && c.JWKSURL == "" {
		return errors.New("either secret or jwksUrl is required")
	}
	if c.Secret != "" {
		switch strings.ToUpper(c.Algorithm) {
		case "", "HS256", "HS384", "HS512":
		default:
			return fmt.Errorf("unsupported HMAC algorithm %q", c.Algorithm)
		}
	}
	if c.ClockSkew < 0 {
		return errors.New("clockSkew must be non-negative")
	}
	return nil
}
