package ratelimit

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Skipper decides which requests bypass the limiter: configured paths and
// trusted client networks. Decisions are cached per (ip, path).
type Skipper struct {
	paths    []string
	networks []netip.Prefix
	cache    *expirable.LRU[string, bool]
}

// NewSkipper creates a Skipper. A cacheSize of zero disables caching.
func NewSkipper(paths, trustedCIDRs []string, cacheSize int, cacheTTL time.Duration) (*Skipper, error) {
	networks, err := parseCIDRs(trustedCIDRs)
	if err != nil {
		return nil, err
	}

	s := &Skipper{networks: networks}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		s.paths = append(s.paths, strings.TrimSuffix(p, "/"))
	}

	if cacheSize > 0 {
		s.cache = expirable.NewLRU[string, bool](cacheSize, nil, cacheTTL)
	}

	return s, nil
}

// Skip reports whether a request from clientIP to path bypasses the limiter.
func (s *Skipper) Skip(clientIP, path string) bool {
	if s == nil {
		return false
	}

	key := clientIP + "|" + path
	if s.cache != nil {
		if skip, ok := s.cache.Get(key); ok {
			return skip
		}
	}

	skip := s.matchPath(path) || s.trusted(clientIP)
	if s.cache != nil {
		s.cache.Add(key, skip)
	}

	return skip
}

func (s *Skipper) matchPath(path string) bool {
	for _, p := range s.paths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (s *Skipper) trusted(clientIP string) bool {
	if len(s.networks) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range s.networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// CacheLen returns the number of cached decisions.
func (s *Skipper) CacheLen() int {
	if s == nil || s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

// parseCIDRs parses CIDR blocks and bare addresses.
func parseCIDRs(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted address %q: %w", c, err)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted CIDR %q: %w", c, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
