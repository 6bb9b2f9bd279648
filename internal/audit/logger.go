package audit

import (
	"context"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

const redactedValue = "[REDACTED]"

// sensitiveKeys are metadata key fragments that are always redacted.
var sensitiveKeys = []string{"token", "authorization", "password", "secret", "apikey", "api_key", "cookie"}

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent logs an audit event.
	LogEvent(ctx context.Context, event *Event)

	// LogAuthentication logs an authentication decision.
	LogAuthentication(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource, reason string)

	// LogAuthorization logs an authorization decision.
	LogAuthorization(ctx context.Context, outcome Outcome, subject *Subject, resource *Resource)

	// LogSecurity logs a security event such as an error pattern alert.
	LogSecurity(ctx context.Context, action Action, subject *Subject, details map[string]interface{})
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates audit metrics registered with the provided
// registerer. A nil registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
	}

	if registerer != nil {
		// Ignore duplicate registration; descriptors are identical.
		_ = registerer.Register(m.eventsTotal)
	}

	return m
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	if m == nil || m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// logger implements Logger on top of the structured logger.
type logger struct {
	logger  observability.Logger
	metrics *Metrics
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// NewLogger creates an audit logger writing through l.
func NewLogger(l observability.Logger, opts ...LoggerOption) Logger {
	if l == nil {
		l = observability.NopLogger()
	}

	lg := &logger{logger: l}
	for _, opt := range opts {
		opt(lg)
	}

	return lg
}

// LogEvent logs an audit event.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	l.metrics.RecordEvent(event.Type, event.Action, event.Outcome)

	fields := eventFields(event)
	log := l.logger.WithContext(ctx)

	switch {
	case event.Type == EventTypeSecurity:
		log.Warn("security alert", fields...)
	case event.Outcome == OutcomeSuccess:
		log.Info("audit event", fields...)
	default:
		log.Warn("audit event", fields...)
	}
}

// LogAuthentication logs an authentication decision.
func (l *logger) LogAuthentication(
	ctx context.Context,
	outcome Outcome,
	subject *Subject,
	resource *Resource,
	reason string,
) {
	l.LogEvent(ctx, AuthenticationEvent(outcome, subject, resource).WithReason(reason))
}

// LogAuthorization logs an authorization decision.
func (l *logger) LogAuthorization(
	ctx context.Context,
	outcome Outcome,
	subject *Subject,
	resource *Resource,
) {
	event := AuthorizationEvent(outcome, subject, resource)
	if outcome == OutcomeDenied {
		event.WithReason("insufficient_permissions")
	}
	l.LogEvent(ctx, event)
}

// LogSecurity logs a security event.
func (l *logger) LogSecurity(
	ctx context.Context,
	action Action,
	subject *Subject,
	details map[string]interface{},
) {
	l.LogEvent(ctx, SecurityEvent(action, subject, details))
}

// eventFields flattens an event into log fields.
func eventFields(event *Event) []observability.Field {
	fields := []observability.Field{
		observability.Bool("audit", true),
		observability.String("audit_id", event.ID),
		observability.String("event_type", string(event.Type)),
		observability.String("action", string(event.Action)),
		observability.String("outcome", string(event.Outcome)),
	}

	if event.Type == EventTypeSecurity {
		fields = append(fields, observability.Bool("security_alert", true))
	}

	if event.Reason != "" {
		fields = append(fields, observability.String("reason", event.Reason))
	}

	if s := event.Subject; s != nil {
		if s.ID != "" {
			fields = append(fields, observability.String("principal_id", s.ID))
		}
		if s.Role != "" {
			fields = append(fields, observability.String("role", s.Role))
		}
		if s.IPAddress != "" {
			fields = append(fields, observability.String("client_ip", s.IPAddress))
		}
	}

	if r := event.Resource; r != nil {
		fields = append(fields,
			observability.String("path", r.Path),
			observability.String("method", r.Method),
		)
		if r.Target != "" {
			fields = append(fields, observability.String("target", r.Target))
		}
		if len(r.RequiredRoles) > 0 {
			fields = append(fields, observability.Strings("required_roles", r.RequiredRoles))
		}
	}

	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := event.Metadata[k]
		if shouldRedact(k) {
			v = redactedValue
		}
		fields = append(fields, observability.Any(k, v))
	}

	return fields
}

// shouldRedact reports whether a metadata key names a credential.
func shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// noopLogger is a no-op audit logger.
type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) LogEvent(_ context.Context, _ *Event) {}

func (l *noopLogger) LogAuthentication(_ context.Context, _ Outcome, _ *Subject, _ *Resource, _ string) {
}

func (l *noopLogger) LogAuthorization(_ context.Context, _ Outcome, _ *Subject, _ *Resource) {}

func (l *noopLogger) LogSecurity(_ context.Context, _ Action, _ *Subject, _ map[string]interface{}) {}

// Ensure implementations satisfy the interface.
var (
	_ Logger = (*logger)(nil)
	_ Logger = (*noopLogger)(nil)
)
