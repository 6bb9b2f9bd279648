package security

import (
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// ApplyErrorHeaders sets the headers every error response carries.
func ApplyErrorHeaders(h http.Header) {
	h.Set("Cache-Control", CacheControlNoStore)
	h.Set("X-Content-Type-Options", ContentTypeNoSniff)
	h.Set("X-Frame-Options", FrameOptionsDeny)
}

// HeadersMiddleware adds security headers to HTTP responses.
type HeadersMiddleware struct {
	config *Config
	logger observability.Logger
}

// HeadersMiddlewareOption is a functional option for the headers middleware.
type HeadersMiddlewareOption func(*HeadersMiddleware)

// WithHeadersLogger sets the logger.
func WithHeadersLogger(logger observability.Logger) HeadersMiddlewareOption {
	return func(m *HeadersMiddleware) {
		m.logger = logger
	}
}

// NewHeadersMiddleware creates a new headers middleware.
func NewHeadersMiddleware(config *Config, opts ...HeadersMiddlewareOption) *HeadersMiddleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &HeadersMiddleware{
		config: config,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Handler returns an HTTP middleware that adds security headers.
func (m *HeadersMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !m.config.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.addSecurityHeaders(w, r)

			wrapped := &headerRemovingResponseWriter{
				ResponseWriter: w,
				removeHeaders:  m.config.RemoveHeaders,
			}

			next.ServeHTTP(wrapped, r)
		})
	}
}

// addSecurityHeaders adds all configured security headers.
func (m *HeadersMiddleware) addSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()

	if m.config.XFrameOptions != "" {
		h.Set("X-Frame-Options", m.config.XFrameOptions)
	}
	if m.config.XContentTypeOptions != "" {
		h.Set("X-Content-Type-Options", m.config.XContentTypeOptions)
	}
	if m.config.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", m.config.ReferrerPolicy)
	}

	// HSTS is only meaningful over HTTPS.
	if m.config.HSTSMaxAge > 0 && isSecureRequest(r) {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(m.config.HSTSMaxAge)+"; includeSubDomains")
	}
}

// isSecureRequest checks if the request is over HTTPS.
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

// headerRemovingResponseWriter wraps http.ResponseWriter to remove specified headers.
type headerRemovingResponseWriter struct {
	http.ResponseWriter
	removeHeaders []string
	wroteHeader   bool
}

// WriteHeader removes specified headers before writing the status code.
func (w *headerRemovingResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		for _, header := range w.removeHeaders {
			w.ResponseWriter.Header().Del(header)
		}
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write ensures headers are processed before writing the body.
func (w *headerRemovingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter.
func (w *headerRemovingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
