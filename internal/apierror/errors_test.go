package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_StatusAndCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{KindForbidden, http.StatusForbidden, "FORBIDDEN"},
		{KindRateLimitExceeded, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{KindCircuitOpen, http.StatusServiceUnavailable, "CIRCUIT_OPEN"},
		{KindUpstreamTimeout, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
		{KindValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{KindNotFound, http.StatusNotFound, "NOT_FOUND"},
		{KindInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{Kind(99), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.status, tt.kind.Status())
			assert.Equal(t, tt.code, tt.kind.Code())
		})
	}
}

func TestError_Is(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("stage: %w", Unauthorized(ReasonInvalidToken))

	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, errors.Is(err, Unauthorized(ReasonInvalidToken)))
	assert.False(t, errors.Is(err, Unauthorized(ReasonInvalidClaims)))
	assert.False(t, errors.Is(err, ErrForbidden))
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := CircuitOpen("payments", ReasonTargetUnavailable, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "target=payments")
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestFrom(t *testing.T) {
	t.Parallel()

	assert.Nil(t, From(nil))

	rl := RateLimitExceeded(3 * time.Second)
	assert.Same(t, rl, From(fmt.Errorf("wrapped: %w", rl)))

	plain := From(errors.New("boom"))
	require.NotNil(t, plain)
	assert.Equal(t, KindInternal, plain.Kind)
	assert.NotEmpty(t, plain.Stack())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindForbidden, KindOf(Forbidden(ReasonInsufficientPermissions)))
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
}

func TestPublicMessage_Override(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "method not allowed", Validation("method not allowed", nil).PublicMessage())
	assert.Equal(t, "Authentication required", Unauthorized(ReasonInvalidToken).PublicMessage())
}
