// Package apierror defines the gateway's failure taxonomy and the single
// transformer that turns any error into the public response envelope.
//
// Every admission stage raises *Error values of a fixed Kind. Error codes
// form a public contract: clients program against them, so existing codes
// are never renamed.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"
)

// Kind classifies a gateway failure.
type Kind int

// Failure kinds.
const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindRateLimitExceeded
	KindCircuitOpen
	KindUpstreamTimeout
	KindValidation
	KindNotFound
)

// Error codes.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen       = "CIRCUIT_OPEN"
	CodeUpstreamTimeout   = "UPSTREAM_TIMEOUT"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// Reasons raised by the admission stages.
const (
	ReasonMissingOrMalformedHeader = "missing_or_malformed_header"
	ReasonInvalidToken             = "invalid_token"
	ReasonInvalidClaims            = "invalid_claims"
	ReasonInsufficientPermissions  = "insufficient_permissions"
	ReasonTargetUnavailable        = "target_unavailable"
	ReasonUpstreamUnavailable      = "upstream_unavailable"
	ReasonUpstreamTimeout          = "upstream_timeout"
	ReasonRateLimited              = "rate_limited"
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindCircuitOpen:
		return "CircuitOpen"
	case KindUpstreamTimeout:
		return "UpstreamTimeout"
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	default:
		return "InternalError"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable error code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindUnauthorized:
		return CodeUnauthorized
	case KindForbidden:
		return CodeForbidden
	case KindRateLimitExceeded:
		return CodeRateLimitExceeded
	case KindCircuitOpen:
		return CodeCircuitOpen
	case KindUpstreamTimeout:
		return CodeUpstreamTimeout
	case KindValidation:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// publicMessage is the user-facing message for each kind.
func (k Kind) publicMessage() string {
	switch k {
	case KindUnauthorized:
		return "Authentication required"
	case KindForbidden:
		return "Insufficient permissions"
	case KindRateLimitExceeded:
		return "Too many requests, please retry later"
	case KindCircuitOpen:
		return "Service temporarily unavailable"
	case KindUpstreamTimeout:
		return "Upstream service timed out"
	case KindValidation:
		return "Request validation failed"
	case KindNotFound:
		return "Resource not found"
	default:
		return "An unexpected error occurred"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind   Kind
	Reason string

	// Message overrides the kind's public message when set.
	Message string

	// Fields carries per-field validation failures.
	Fields map[string]string

	// RetryAfter is set for RateLimitExceeded.
	RetryAfter time.Duration

	// Target is the downstream target for breaker and timeout failures.
	Target string

	Cause error
	stack []byte
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind. A target with a reason also
// requires the reason to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Status returns the HTTP status for the error.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// Code returns the public error code.
func (e *Error) Code() string {
	return e.Kind.Code()
}

// PublicMessage returns the message safe to show callers.
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.publicMessage()
}

// Stack returns the stack captured when an internal error was created.
func (e *Error) Stack() []byte {
	return e.stack
}

// Sentinels for errors.Is checks on kind only.
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrRateLimitExceeded = &Error{Kind: KindRateLimitExceeded}
	ErrCircuitOpen       = &Error{Kind: KindCircuitOpen}
	ErrUpstreamTimeout   = &Error{Kind: KindUpstreamTimeout}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Unauthorized creates an authentication failure.
func Unauthorized(reason string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: reason}
}

// UnauthorizedWithCause creates an authentication failure wrapping the
// verifier error. The cause is logged, never returned to callers.
func UnauthorizedWithCause(reason string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Reason: reason, Cause: cause}
}

// Forbidden creates an authorization failure.
func Forbidden(reason string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason}
}

// RateLimitExceeded creates a quota failure.
func RateLimitExceeded(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimitExceeded, Reason: ReasonRateLimited, RetryAfter: retryAfter}
}

// CircuitOpen creates a fail-fast failure for an open breaker.
func CircuitOpen(target, reason string, cause error) *Error {
	return &Error{Kind: KindCircuitOpen, Reason: reason, Target: target, Cause: cause}
}

// UpstreamTimeout creates a downstream deadline failure.
func UpstreamTimeout(target string, cause error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Reason: ReasonUpstreamTimeout, Target: target, Cause: cause}
}

// Validation creates a request validation failure.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NotFound creates a failure for an unmatched route.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Internal wraps an unexpected error and captures the current stack.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Cause: cause, stack: debug.Stack()}
}

// Internalf creates an internal error from a format string.
func Internalf(format string, args ...interface{}) *Error {
	return Internal(fmt.Errorf(format, args...))
}

// From classifies any error. Errors that are not *Error become internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}
