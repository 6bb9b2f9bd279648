package middleware

// HTTP header constants.
const (
	// HeaderCorrelationID carries the ID shared by every hop of a request.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderRequestID carries the ID of this hop.
	HeaderRequestID = "X-Request-Id"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"
)

// maxIDLength bounds accepted inbound correlation and request IDs.
const maxIDLength = 128
