package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

// ErrBodyTooLarge is returned by a limited request body once the limit is
// exceeded.
var ErrBodyTooLarge = errors.New("request body too large")

// BodyTooLarge returns the validation failure for an oversized body.
func BodyTooLarge(maxSize int64) *apierror.Error {
	return apierror.Validation("Request body too large", map[string]string{
		"body": fmt.Sprintf("must not exceed %d bytes", maxSize),
	})
}

// BodyLimit returns a middleware that limits the request body size.
// Requests declaring a larger Content-Length are rejected at once; other
// bodies fail with ErrBodyTooLarge when read past the limit.
func BodyLimit(maxSize int64, ew ErrorWriter, logger observability.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.WithContext(r.Context()).Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)
				metrics.recordBodyRejected()

				ew.Write(w, r, BodyTooLarge(maxSize), observability.CorrelationIDFromContext(r.Context()))
				return
			}

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = &limitedReadCloser{
					ReadCloser: r.Body,
					remaining:  maxSize,
					onExceeded: metrics.recordBodyRejected,
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitedReadCloser wraps an io.ReadCloser and limits the number of bytes that can be read.
type limitedReadCloser struct {
	io.ReadCloser
	remaining  int64
	exceeded   bool
	onExceeded func()
}

// Read reads up to len(p) bytes into p, respecting the remaining limit.
// A body of exactly the limit still ends with io.EOF.
func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrBodyTooLarge
	}
	if len(p) == 0 {
		return 0, nil
	}

	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.ReadCloser.Read(probe[:])
		if n == 0 {
			return 0, err
		}
		l.exceeded = true
		if l.onExceeded != nil {
			l.onExceeded()
		}
		return 0, ErrBodyTooLarge
	}

	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}

	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)

	return n, err
}
