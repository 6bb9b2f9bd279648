package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPExtractor extracts the real client IP from requests,
// handling X-Forwarded-For with trusted proxy validation.
// When no trusted proxies are configured, only RemoteAddr is used.
type ClientIPExtractor struct {
	trusted []netip.Prefix
}

// NewClientIPExtractor creates a new ClientIPExtractor with the given
// trusted proxy CIDRs or addresses. Invalid entries are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	prefixes := make([]netip.Prefix, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if p, err := netip.ParsePrefix(proxy); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(proxy); err == nil {
			a = a.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return &ClientIPExtractor{trusted: prefixes}
}

// Extract returns the real client IP from the request.
// If RemoteAddr is a trusted proxy, X-Forwarded-For is walked right-to-left
// and the first untrusted address is returned.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if e == nil || len(e.trusted) == 0 || !e.isTrusted(remoteIP) {
		return remoteIP
	}

	return e.extractFromXFF(r, remoteIP)
}

// extractFromXFF returns the first untrusted address in X-Forwarded-For
// walking right-to-left. A malformed hop or an all-trusted chain yields
// fallback.
func (e *ClientIPExtractor) extractFromXFF(r *http.Request, fallback string) string {
	values := r.Header.Values(HeaderXForwardedFor)
	if len(values) == 0 {
		return fallback
	}

	ips := strings.Split(strings.Join(values, ","), ",")
	for i := len(ips) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(ips[i])
		if ip == "" {
			continue
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return fallback
		}
		if !e.contains(addr) {
			return addr.Unmap().String()
		}
	}

	return fallback
}

// isTrusted checks if the given IP string is within any trusted prefix.
func (e *ClientIPExtractor) isTrusted(ipStr string) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	return e.contains(addr)
}

func (e *ClientIPExtractor) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range e.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// stripPort removes the port from an address string.
// Handles both IPv4 ("192.168.1.1:8080") and IPv6 ("[::1]:8080") formats.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
