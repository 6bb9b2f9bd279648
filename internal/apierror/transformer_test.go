package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)

func fixedClock() time.Time { return fixedNow }

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestTransformer_Write_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthorized", Unauthorized(ReasonMissingOrMalformedHeader), 401, CodeUnauthorized},
		{"forbidden", Forbidden(ReasonInsufficientPermissions), 403, CodeForbidden},
		{"rate limited", RateLimitExceeded(30 * time.Second), 429, CodeRateLimitExceeded},
		{"circuit open", CircuitOpen("payments", ReasonTargetUnavailable, nil), 503, CodeCircuitOpen},
		{"upstream timeout", UpstreamTimeout("payments", nil), 504, CodeUpstreamTimeout},
		{"validation", Validation("bad body", map[string]string{"amount": "required"}), 400, CodeValidation},
		{"unknown", errors.New("nil pointer"), 500, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := NewTransformer(WithTransformerClock(fixedClock))
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/payments", nil)

			tr.Write(rec, req, tt.err, "corr-1")

			assert.Equal(t, tt.status, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, tt.status, env.Status)
			assert.Equal(t, tt.code, env.ErrorCode)
			assert.Equal(t, "corr-1", env.CorrelationID)
			assert.Equal(t, "2026-03-01T12:00:00.250Z", env.Timestamp)
			assert.NotEmpty(t, env.Message)

			h := rec.Header()
			assert.Equal(t, "application/json", h.Get("Content-Type"))
			assert.Equal(t, "no-store", h.Get("Cache-Control"))
			assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
			assert.Equal(t, "corr-1", h.Get(HeaderCorrelationID))
		})
	}
}

func TestTransformer_Write_RetryAfter(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	rec := httptest.NewRecorder()

	tr.Write(rec, nil, RateLimitExceeded(2500*time.Millisecond), "c")

	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	env := decodeEnvelope(t, rec)
	assert.Equal(t, float64(3), env.Details["retryAfterSeconds"])
}

func TestTransformer_Production_MasksInternal(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(WithProduction(true))
	rec := httptest.NewRecorder()

	tr.Write(rec, nil, errors.New("db password=hunter2 unreachable"), "c")

	env := decodeEnvelope(t, rec)
	assert.Equal(t, CodeInternal, env.ErrorCode)
	assert.Equal(t, "An unexpected error occurred", env.Message)
	assert.Nil(t, env.Details)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "stack")
	assert.NotContains(t, rec.Body.String(), "goroutine")
}

func TestTransformer_NonProduction_SanitizedDetails(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(WithProduction(false))
	rec := httptest.NewRecorder()

	tr.Write(rec, nil, errors.New("db password=hunter2 unreachable"), "c")

	env := decodeEnvelope(t, rec)
	assert.Equal(t, "db password=[REDACTED] unreachable", env.Message)
	require.NotNil(t, env.Details)
	assert.Contains(t, env.Details, "stack")
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestTransformer_Production_HidesReason(t *testing.T) {
	t.Parallel()

	prod := NewTransformer(WithProduction(true))
	env, _ := prod.Transform(Unauthorized(ReasonInvalidToken), "c")
	assert.Nil(t, env.Details)

	dev := NewTransformer(WithProduction(false))
	env, _ = dev.Transform(Unauthorized(ReasonInvalidToken), "c")
	assert.Equal(t, ReasonInvalidToken, env.Details["reason"])
}

func TestTransformer_ValidationFieldsAlwaysIncluded(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(WithProduction(true))
	env, _ := tr.Transform(Validation("bad", map[string]string{"email": "invalid"}), "c")

	require.NotNil(t, env.Details)
	assert.Equal(t, map[string]string{"email": "invalid"}, env.Details["fields"])
}

func TestTransformer_FeedsPatternCounterAndMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	patterns := NewPatternCounter(2, time.Minute, WithPatternMetrics(metrics))
	tr := NewTransformer(WithPatternCounter(patterns), WithTransformerMetrics(metrics))

	for i := 0; i < 3; i++ {
		tr.Write(httptest.NewRecorder(), nil, Unauthorized(ReasonInvalidToken), "c")
	}

	assert.Equal(t, 3, patterns.Count(401, CodeUnauthorized))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.responsesTotal.WithLabelValues("401", CodeUnauthorized)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.alertsTotal.WithLabelValues("401", CodeUnauthorized)))
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), retryAfterSeconds(0))
	assert.Equal(t, int64(1), retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, int64(60), retryAfterSeconds(60*time.Second))
	assert.Equal(t, int64(61), retryAfterSeconds(60*time.Second+time.Nanosecond))
}
