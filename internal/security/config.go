package security

import (
	"errors"
	"strings"
)

// Header values attached to error responses regardless of configuration.
const (
	CacheControlNoStore = "no-store"
	ContentTypeNoSniff  = "nosniff"
	FrameOptionsDeny    = "DENY"
)

// Config configures the response security headers.
type Config struct {
	// Enabled enables the headers middleware for successful responses.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// XFrameOptions sets the X-Frame-Options header.
	// Valid values: DENY, SAMEORIGIN
	XFrameOptions string `yaml:"xFrameOptions,omitempty" json:"xFrameOptions,omitempty"`

	// XContentTypeOptions sets the X-Content-Type-Options header.
	XContentTypeOptions string `yaml:"xContentTypeOptions,omitempty" json:"xContentTypeOptions,omitempty"`

	// ReferrerPolicy sets the Referrer-Policy header.
	ReferrerPolicy string `yaml:"referrerPolicy,omitempty" json:"referrerPolicy,omitempty"`

	// HSTSMaxAge sets Strict-Transport-Security for HTTPS requests when positive.
	HSTSMaxAge int `yaml:"hstsMaxAge,omitempty" json:"hstsMaxAge,omitempty"`

	// RemoveHeaders are stripped from downstream responses (e.g. Server).
	RemoveHeaders []string `yaml:"removeHeaders,omitempty" json:"removeHeaders,omitempty"`
}

// DefaultConfig returns the default security header configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		XFrameOptions:       FrameOptionsDeny,
		XContentTypeOptions: ContentTypeNoSniff,
		ReferrerPolicy:      "no-referrer",
		RemoveHeaders:       []string{"Server", "X-Powered-By"},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	switch strings.ToUpper(c.XFrameOptions) {
	case "", "DENY", "SAMEORIGIN":
	default:
		return errors.New("xFrameOptions must be DENY or SAMEORIGIN")
	}

	if c.XContentTypeOptions != "" && c.XContentTypeOptions != ContentTypeNoSniff {
		return errors.New("xContentTypeOptions must be nosniff")
	}

	if c.HSTSMaxAge < 0 {
		return errors.New("hstsMaxAge must be non-negative")
	}

	return nil
}
