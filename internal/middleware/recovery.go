package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// ErrorWriter writes a failure as the public error envelope.
type ErrorWriter interface {
	Write(w http.ResponseWriter, r *http.Request, err error, correlationID string)
}

// Recovery returns a middleware that recovers from panics and answers
// with an internal error envelope. http.ErrAbortHandler is re-raised.
func Recovery(logger observability.Logger, ew ErrorWriter, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(p)
				}

				stack := debug.Stack()
				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("error", p),
					observability.String("stack", string(stack)),
				)
				metrics.recordPanic()

				ew.Write(w, r, apierror.Internal(fmt.Errorf("panic: %v", p)),
					observability.CorrelationIDFromContext(r.Context()))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
