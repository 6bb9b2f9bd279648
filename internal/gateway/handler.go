package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/middleware"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/pipeline"
	"github.com/vyrodovalexey/rentgw/internal/router"
	"github.com/vyrodovalexey/rentgw/internal/security"
)

// Probe endpoints.
const (
	PathHealth = "/health"
	PathReady  = "/ready"
)

// Handler returns the gateway HTTP handler: probes, metrics and every
// configured route behind the admission pipeline.
func (s *State) Handler() http.Handler {
	cfg := s.Config
	mux := chi.NewRouter()

	mux.Use(
		middleware.Correlation(),
		s.requestContext,
		middleware.Logging(s.Logger,
			middleware.WithRequestMetrics(s.Metrics),
			middleware.WithRouteResolver(routeName),
			middleware.WithClientIPExtractor(s.ClientIP),
		),
		middleware.Recovery(s.Logger, s.Transformer, s.middlewareMetrics),
		security.NewHeadersMiddleware(cfg.Security, security.WithHeadersLogger(s.Logger)).Handler(),
		middleware.BodyLimit(cfg.Server.MaxBodyBytes, s.Transformer, s.Logger, s.middlewareMetrics),
	)

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.Transformer.Write(w, r, apierror.NotFound(""), observability.CorrelationIDFromContext(r.Context()))
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.Transformer.Write(w, r, apierror.Validation("Method not allowed", map[string]string{
			"method": r.Method,
		}), observability.CorrelationIDFromContext(r.Context()))
	})

	mux.Get(PathHealth, s.Health.HealthHandler())
	mux.Get(PathReady, s.Health.ReadinessHandler())
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, s.Metrics.Handler())
	}

	s.Routes.Mount(mux, s.routeHandler)

	return mux
}

// requestContext attaches the per-request RequestContext.
func (s *State) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := &pipeline.RequestContext{
			CorrelationID: observability.CorrelationIDFromContext(ctx),
			RequestID:     observability.RequestIDFromContext(ctx),
			StartTime:     time.Now(),
			Request:       r,
			ClientAddr:    s.ClientIP.Extract(r),
		}
		next.ServeHTTP(w, r.WithContext(pipeline.NewContext(ctx, rc)))
	})
}

// routeName names the matched route for logs and metrics.
func routeName(r *http.Request) string {
	rc, ok := pipeline.FromContext(r.Context())
	if !ok || rc.Route == nil {
		return ""
	}
	return rc.Route.Name
}

// routeHandler runs a routed request through the admission pipeline and
// relays the downstream response.
func (s *State) routeHandler(route *router.Route) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := pipeline.FromContext(r.Context())
		if !ok {
			s.Transformer.Write(w, r, apierror.Internalf("request context missing"), "")
			return
		}
		rc.Route = route
		rc.Request = r

		ctx := observability.ContextWithSpanIDs(r.Context())
		r = r.WithContext(ctx)

		err := s.Pipeline.Run(ctx, rc)
		if rc.RateLimit != nil {
			rc.RateLimit.SetHeaders(w.Header())
		}
		if err != nil {
			s.Transformer.Write(w, r, err, rc.CorrelationID)
			return
		}

		rc.Response.Relay(w)
	})

	return otelhttp.NewHandler(h, "route."+route.Name)
}
