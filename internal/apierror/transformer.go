package apierror

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/security"
)

// TimestampFormat is the envelope timestamp layout (ISO-8601, UTC, ms).
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// HeaderCorrelationID is echoed on every error response.
const HeaderCorrelationID = "X-Correlation-Id"

// Envelope is the public error response body.
type Envelope struct {
	Status        int                    `json:"status"`
	Message       string                 `json:"message"`
	ErrorCode     string                 `json:"errorCode"`
	CorrelationID string                 `json:"correlationId"`
	Timestamp     string                 `json:"timestamp"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Transformer converts any error into an Envelope and writes it.
type Transformer struct {
	production bool
	patterns   *PatternCounter
	logger     observability.Logger
	metrics    *Metrics
	now        func() time.Time
}

// TransformerOption configures a Transformer.
type TransformerOption func(*Transformer)

// WithProduction enables production masking.
func WithProduction(production bool) TransformerOption {
	return func(t *Transformer) {
		t.production = production
	}
}

// WithPatternCounter sets the error pattern counter.
func WithPatternCounter(p *PatternCounter) TransformerOption {
	return func(t *Transformer) {
		t.patterns = p
	}
}

// WithTransformerLogger sets the logger.
func WithTransformerLogger(l observability.Logger) TransformerOption {
	return func(t *Transformer) {
		t.logger = l
	}
}

// WithTransformerMetrics sets the metrics.
func WithTransformerMetrics(m *Metrics) TransformerOption {
	return func(t *Transformer) {
		t.metrics = m
	}
}

// WithTransformerClock overrides the time source.
func WithTransformerClock(now func() time.Time) TransformerOption {
	return func(t *Transformer) {
		t.now = now
	}
}

// NewTransformer creates a Transformer. Production masking is on unless
// disabled with WithProduction(false).
func NewTransformer(opts ...TransformerOption) *Transformer {
	t := &Transformer{
		production: true,
		logger:     observability.NopLogger(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Transform classifies err and builds its envelope.
func (t *Transformer) Transform(err error, correlationID string) (*Envelope, *Error) {
	apiErr := From(err)
	if apiErr == nil {
		apiErr = Internalf("nil error transformed")
	}

	env := &Envelope{
		Status:        apiErr.Status(),
		Message:       apiErr.PublicMessage(),
		ErrorCode:     apiErr.Code(),
		CorrelationID: correlationID,
		Timestamp:     t.now().UTC().Format(TimestampFormat),
	}

	if apiErr.Kind == KindInternal {
		t.internalDetails(env, apiErr)
	} else {
		env.Details = t.details(apiErr)
	}

	return env, apiErr
}

// internalDetails fills the message and details of an internal error.
// Production responses carry only the generic message.
func (t *Transformer) internalDetails(env *Envelope, apiErr *Error) {
	if t.production {
		env.Message = KindInternal.publicMessage()
		return
	}

	if apiErr.Cause != nil {
		env.Message = Sanitize(apiErr.Cause.Error())
	}
	env.Details = map[string]interface{}{}
	if stack := apiErr.Stack(); len(stack) > 0 {
		env.Details["stack"] = Sanitize(string(stack))
	}
}

// details returns the client-safe details of a classified error.
func (t *Transformer) details(apiErr *Error) map[string]interface{} {
	details := map[string]interface{}{}

	if len(apiErr.Fields) > 0 {
		details["fields"] = apiErr.Fields
	}
	if apiErr.Kind == KindRateLimitExceeded && apiErr.RetryAfter > 0 {
		details["retryAfterSeconds"] = retryAfterSeconds(apiErr.RetryAfter)
	}
	if !t.production {
		if apiErr.Reason != "" {
			details["reason"] = apiErr.Reason
		}
		if apiErr.Target != "" {
			details["target"] = apiErr.Target
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// Write transforms err and writes the envelope with the error response
// headers.
func (t *Transformer) Write(w http.ResponseWriter, r *http.Request, err error, correlationID string) {
	env, apiErr := t.Transform(err, correlationID)

	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	t.log(ctx, r, apiErr)

	t.metrics.recordResponse(env.Status, env.ErrorCode)
	if t.patterns != nil {
		t.patterns.Observe(ctx, env.Status, env.ErrorCode)
	}

	h := w.Header()
	security.ApplyErrorHeaders(h)
	h.Set("Content-Type", "application/json")
	if correlationID != "" {
		h.Set(HeaderCorrelationID, correlationID)
	}
	if apiErr.Kind == KindRateLimitExceeded {
		h.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(apiErr.RetryAfter), 10))
	}

	w.WriteHeader(env.Status)
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil {
		t.logger.Error("failed to write error response", observability.Error(encErr))
	}
}

// log records the failure. Only internal errors log at error level.
func (t *Transformer) log(ctx context.Context, r *http.Request, apiErr *Error) {
	fields := []observability.Field{
		observability.String("error_code", apiErr.Code()),
		observability.Int("status", apiErr.Status()),
	}
	if r != nil {
		fields = append(fields,
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
		)
	}
	if apiErr.Reason != "" {
		fields = append(fields, observability.String("reason", apiErr.Reason))
	}
	if apiErr.Target != "" {
		fields = append(fields, observability.String("target", apiErr.Target))
	}
	if apiErr.Cause != nil {
		fields = append(fields, observability.String("cause", Sanitize(apiErr.Cause.Error())))
	}

	log := t.logger.WithContext(ctx)
	if apiErr.Kind == KindInternal {
		if stack := apiErr.Stack(); len(stack) > 0 {
			fields = append(fields, observability.String("stack", string(stack)))
		}
		log.Error("request failed", fields...)
		return
	}
	log.Warn("request rejected", fields...)
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
