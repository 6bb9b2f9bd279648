package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAuthorization  EventType = "authorization"
	EventTypeSecurity       EventType = "security"
)

// Action represents the action being audited.
type Action string

// Audited actions.
const (
	ActionAuthenticate Action = "authenticate"
	ActionAccess       Action = "access"
	ActionDeny         Action = "deny"

	ActionRateLimitExceeded  Action = "rate_limit_exceeded"
	ActionSuspiciousActivity Action = "suspicious_activity"
	ActionErrorPatternAlert  Action = "error_pattern_alert"
	ActionCircuitOpened      Action = "circuit_opened"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event represents an audit event.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Action    Action
	Outcome   Outcome

	// Subject is the principal performing the action, nil when unknown.
	Subject *Subject

	// Resource is the route being accessed.
	Resource *Resource

	// Reason is the machine-readable failure reason.
	Reason string

	Metadata map[string]interface{}
}

// Subject represents the principal performing an action.
type Subject struct {
	ID        string
	Email     string
	Role      string
	IPAddress string
}

// Resource represents the route being accessed.
type Resource struct {
	Path   string
	Method string

	// Target is the logical downstream service.
	Target string

	// RequiredRoles are the roles the route admits.
	RequiredRoles []string
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithReason sets the failure reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// AuthenticationEvent creates an authentication audit event.
func AuthenticationEvent(outcome Outcome, subject *Subject, resource *Resource) *Event {
	return NewEvent(EventTypeAuthentication, ActionAuthenticate, outcome).
		WithSubject(subject).
		WithResource(resource)
}

// AuthorizationEvent creates an authorization audit event.
func AuthorizationEvent(outcome Outcome, subject *Subject, resource *Resource) *Event {
	action := ActionAccess
	if outcome == OutcomeDenied {
		action = ActionDeny
	}
	return NewEvent(EventTypeAuthorization, action, outcome).
		WithSubject(subject).
		WithResource(resource)
}

// SecurityEvent creates a security audit event.
func SecurityEvent(action Action, subject *Subject, details map[string]interface{}) *Event {
	event := NewEvent(EventTypeSecurity, action, OutcomeFailure).WithSubject(subject)
	for k, v := range details {
		event.WithMetadata(k, v)
	}
	return event
}
