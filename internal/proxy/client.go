package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vyrodovalexey/rentgw/internal/auth"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/router"
)

// Forwarded headers.
const (
	HeaderCorrelationID  = "X-Correlation-Id"
	HeaderRequestID      = "X-Request-Id"
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderForwardedProto = "X-Forwarded-Proto"
	HeaderForwardedHost  = "X-Forwarded-Host"
	HeaderUserID         = "X-User-Id"
	HeaderUserRole       = "X-User-Role"
)

// DefaultMaxResponseBytes bounds a buffered upstream response.
const DefaultMaxResponseBytes = 10 << 20

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Outbound is a request to forward.
type Outbound struct {
	Route         *router.Route
	Request       *http.Request
	Body          []byte
	CorrelationID string
	RequestID     string
	ClientIP      string
	Principal     *auth.Principal
}

// Response is a buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Relay writes the response to w. Headers already set on w are kept.
func (r *Response) Relay(w http.ResponseWriter) {
	h := w.Header()
	for k, vv := range r.Header {
		if _, set := h[k]; set {
			continue
		}
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

// Client calls downstream targets.
type Client struct {
	http             *http.Client
	logger           observability.Logger
	metrics          *Metrics
	maxResponseBytes int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l observability.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithClientMetrics sets the metrics.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTransport sets the base transport. It is wrapped with otelhttp.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.http.Transport = otelhttp.NewTransport(rt)
	}
}

// WithMaxResponseBytes bounds buffered responses.
func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) {
		c.maxResponseBytes = n
	}
}

// NewClient creates a downstream client.
func NewClient(opts ...ClientOption) *Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = 32
	base.IdleConnTimeout = 90 * time.Second

	c := &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(base),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:           observability.NopLogger(),
		maxResponseBytes: DefaultMaxResponseBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do forwards out and buffers the response. A non-2xx response is returned
// with a *StatusError. Transport failures return a *ProxyError; context
// errors are returned as is.
func (c *Client) Do(ctx context.Context, out *Outbound) (*Response, error) {
	target := out.Route.Target

	req, err := c.newRequest(ctx, out)
	if err != nil {
		return nil, &ProxyError{Op: "build_request", Target: target, Cause: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.metrics.recordError(target, errorType(err))
		c.logger.WithContext(ctx).Warn("upstream request failed",
			observability.String("target", target),
			observability.String("upstream", out.Route.Upstream.Host),
			observability.Error(err),
		)
		return nil, &ProxyError{Op: "round_trip", Target: target, Cause: fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.metrics.recordError(target, "read_body")
		return nil, &ProxyError{Op: "read_body", Target: target, Cause: err}
	}
	if int64(len(body)) > c.maxResponseBytes {
		c.metrics.recordError(target, "response_too_large")
		return nil, &ProxyError{Op: "read_body", Target: target, Cause: ErrResponseTooLarge}
	}

	c.metrics.recordResponse(target, resp.StatusCode, time.Since(start))

	header := resp.Header.Clone()
	removeHopHeaders(header)

	r := &Response{StatusCode: resp.StatusCode, Header: header, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return r, &StatusError{Target: target, StatusCode: resp.StatusCode}
	}
	return r, nil
}

func (c *Client) newRequest(ctx context.Context, out *Outbound) (*http.Request, error) {
	in := out.Request

	u := *out.Route.Upstream
	u.Path = out.Route.UpstreamPath(in.URL.Path)
	u.RawPath = ""
	u.RawQuery = in.URL.RawQuery

	var body io.Reader = http.NoBody
	if len(out.Body) > 0 {
		body = bytes.NewReader(out.Body)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header = in.Header.Clone()
	removeHopHeaders(req.Header)
	req.Header.Del(HeaderUserID)
	req.Header.Del(HeaderUserRole)

	if out.CorrelationID != "" {
		req.Header.Set(HeaderCorrelationID, out.CorrelationID)
	}
	if out.RequestID != "" {
		req.Header.Set(HeaderRequestID, out.RequestID)
	}
	if out.Principal != nil {
		req.Header.Set(HeaderUserID, out.Principal.ID)
		req.Header.Set(HeaderUserRole, out.Principal.Role)
	}

	if out.ClientIP != "" {
		xff := out.ClientIP
		if prior := in.Header.Get(HeaderForwardedFor); prior != "" {
			xff = prior + ", " + out.ClientIP
		}
		req.Header.Set(HeaderForwardedFor, xff)
	}
	if in.TLS != nil {
		req.Header.Set(HeaderForwardedProto, "https")
	} else {
		req.Header.Set(HeaderForwardedProto, "http")
	}
	req.Header.Set(HeaderForwardedHost, in.Host)

	req.Host = u.Host
	return req, nil
}

// removeHopHeaders deletes hop-by-hop headers and those named by Connection.
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func errorType(err error) string {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case strings.Contains(err.Error(), "connection refused"):
		return "connection_refused"
	default:
		return "transport"
	}
}
