package middleware

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingOption configures the logging middleware.
type LoggingOption func(*loggingConfig)

type loggingConfig struct {
	metrics  *observability.Metrics
	routeOf  func(*http.Request) string
	clientIP *ClientIPExtractor
}

// WithRequestMetrics records request counts and durations.
func WithRequestMetrics(m *observability.Metrics) LoggingOption {
	return func(c *loggingConfig) {
		c.metrics = m
	}
}

// WithRouteResolver names the matched route of a finished request.
func WithRouteResolver(fn func(*http.Request) string) LoggingOption {
	return func(c *loggingConfig) {
		c.routeOf = fn
	}
}

// WithClientIPExtractor resolves the logged client IP.
func WithClientIPExtractor(e *ClientIPExtractor) LoggingOption {
	return func(c *loggingConfig) {
		c.clientIP = e
	}
}

// Logging returns a middleware that logs the start and completion of every
// request.
func Logging(logger observability.Logger, opts ...LoggingOption) func(http.Handler) http.Handler {
	cfg := &loggingConfig{
		routeOf: func(*http.Request) string { return "" },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := logger.WithContext(r.Context())
			clientIP := cfg.clientIP.Extract(r)

			log.Info("request started",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("client_ip", clientIP),
				observability.String("user_agent", r.UserAgent()),
			)

			if cfg.metrics != nil {
				cfg.metrics.RequestStarted()
			}

			rw := &responseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			route := cfg.routeOf(r)

			if cfg.metrics != nil {
				cfg.metrics.RequestFinished(r.Method, route, rw.status, duration)
			}

			log.Info("request completed",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("route", route),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", duration),
				observability.String("client_ip", clientIP),
			)
		})
	}
}
