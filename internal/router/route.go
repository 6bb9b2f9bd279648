package router

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/rentgw/internal/authz"
)

var validMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// Route is a compiled route.
type Route struct {
	// Name identifies the route in logs and metrics.
	Name string

	// Prefix matches the request path and everything below it.
	Prefix string

	// Methods restricts the route. Empty allows every method.
	Methods []string

	// Target is the logical downstream name and the circuit breaker key.
	Target string

	// Upstream is the base URL of the target.
	Upstream *url.URL

	// AllowedRoles admits principals holding any of the roles through the
	// hierarchy. Empty admits any authenticated principal.
	AllowedRoles []authz.Role

	// Public routes skip authentication and authorization.
	Public bool

	// StripPrefix removes Prefix before forwarding.
	StripPrefix bool
}

// Spec is the uncompiled form of a route.
type Spec struct {
	Name         string
	Prefix       string
	Methods      []string
	Target       string
	Upstream     string
	AllowedRoles []string
	Public       bool
	StripPrefix  bool
}

// Compile validates s against the role hierarchy and compiles it.
func Compile(s Spec, h *authz.Hierarchy) (*Route, error) {
	if s.Name == "" {
		return nil, errors.New("route name is required")
	}
	if !strings.HasPrefix(s.Prefix, "/") {
		return nil, fmt.Errorf("route %s: prefix must start with /", s.Name)
	}
	if s.Target == "" {
		return nil, fmt.Errorf("route %s: target is required", s.Name)
	}

	u, err := url.Parse(s.Upstream)
	if err != nil {
		return nil, fmt.Errorf("route %s: invalid upstream: %w", s.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("route %s: upstream must be an absolute http(s) URL", s.Name)
	}

	r := &Route{
		Name:        s.Name,
		Prefix:      normalizePrefix(s.Prefix),
		Target:      s.Target,
		Upstream:    u,
		Public:      s.Public,
		StripPrefix: s.StripPrefix,
	}

	for _, m := range s.Methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if _, ok := validMethods[m]; !ok {
			return nil, fmt.Errorf("route %s: unsupported method %q", s.Name, m)
		}
		r.Methods = append(r.Methods, m)
	}

	for _, name := range s.AllowedRoles {
		if !h.Valid(name) {
			return nil, fmt.Errorf("route %s: %w: %s", s.Name, authz.ErrUnknownRole, name)
		}
	}
	r.AllowedRoles = authz.ParseRoles(s.AllowedRoles)

	if r.Public && len(r.AllowedRoles) > 0 {
		return nil, fmt.Errorf("route %s: public routes cannot require roles", s.Name)
	}

	return r, nil
}

func normalizePrefix(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimSuffix(p, "/")
}

// AllowsMethod reports whether the route accepts method.
func (r *Route) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// patterns returns the chi patterns matching the prefix and its sub-paths.
func (r *Route) patterns() []string {
	if r.Prefix == "/" {
		return []string{"/*"}
	}
	return []string{r.Prefix, r.Prefix + "/*"}
}

// UpstreamPath returns the path forwarded to the upstream.
func (r *Route) UpstreamPath(requestPath string) string {
	p := requestPath
	if r.StripPrefix && r.Prefix != "/" {
		p = strings.TrimPrefix(p, r.Prefix)
		if p == "" {
			p = "/"
		}
	}
	base := strings.TrimSuffix(r.Upstream.Path, "/")
	return base + p
}
