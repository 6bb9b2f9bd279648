package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// Correlation returns a middleware that assigns the request and
// correlation IDs.
func Correlation() func(http.Handler) http.Handler {
	return CorrelationWithGenerator(uuid.NewString)
}

// CorrelationWithGenerator returns a correlation middleware that uses a
// custom ID generator.
//
// The request ID is taken from X-Request-Id or generated. The correlation
// ID is taken from X-Correlation-Id, then X-Request-Id, and otherwise
// equals the request ID. Both are stored in the request context and echoed
// on the response.
func CorrelationWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inboundRequestID := validID(r.Header.Get(HeaderRequestID))

			requestID := inboundRequestID
			if requestID == "" {
				requestID = generator()
			}

			correlationID := validID(r.Header.Get(HeaderCorrelationID))
			if correlationID == "" {
				correlationID = requestID
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			ctx = observability.ContextWithCorrelationID(ctx, correlationID)
			r = r.WithContext(ctx)

			w.Header().Set(HeaderRequestID, requestID)
			w.Header().Set(HeaderCorrelationID, correlationID)

			next.ServeHTTP(w, r)
		})
	}
}

// validID returns id when it is short and printable, otherwise "".
func validID(id string) string {
	if id == "" || len(id) > maxIDLength {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return id
}
