package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/rentgw/internal/observability"
)

func newBufferLogger(t *testing.T) (observability.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	l, err := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Writer: &buf})
	require.NoError(t, err)
	return l, &buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_LogAuthentication(t *testing.T) {
	t.Parallel()

	base, buf := newBufferLogger(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	l := NewLogger(base, WithLoggerMetrics(metrics))

	ctx := observability.ContextWithRequestID(context.Background(), "req-42")
	l.LogAuthentication(ctx, OutcomeSuccess,
		&Subject{ID: "u-1", Role: "RENTER"},
		&Resource{Path: "/api/properties", Method: "GET"},
		"",
	)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]

	assert.Equal(t, "audit event", entry["message"])
	assert.Equal(t, true, entry["audit"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "u-1", entry["principal_id"])
	assert.Equal(t, "RENTER", entry["role"])
	assert.Equal(t, "/api/properties", entry["path"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "info", entry["level"])

	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.eventsTotal.WithLabelValues("authentication", "authenticate", "success")))
}

func TestLogger_LogAuthorization_Denied(t *testing.T) {
	t.Parallel()

	base, buf := newBufferLogger(t)
	l := NewLogger(base)

	l.LogAuthorization(context.Background(), OutcomeDenied,
		&Subject{ID: "u-2", Role: "RENTER"},
		&Resource{Path: "/api/payments/refund", Method: "POST", RequiredRoles: []string{"ADMIN"}},
	)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "deny", entries[0]["action"])
	assert.Equal(t, "insufficient_permissions", entries[0]["reason"])
	assert.Equal(t, []interface{}{"ADMIN"}, entries[0]["required_roles"])
}

func TestLogger_LogSecurity_RedactsCredentials(t *testing.T) {
	t.Parallel()

	base, buf := newBufferLogger(t)
	l := NewLogger(base)

	l.LogSecurity(context.Background(), ActionErrorPatternAlert, nil, map[string]interface{}{
		"status":       401,
		"access_token": "abc.def.ghi",
	})

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0]["security_alert"])
	assert.Equal(t, "security alert", entries[0]["message"])
	assert.Equal(t, redactedValue, entries[0]["access_token"])
	assert.Equal(t, float64(401), entries[0]["status"])
}

func TestLogger_NilEvent(t *testing.T) {
	t.Parallel()

	base, buf := newBufferLogger(t)
	NewLogger(base).LogEvent(context.Background(), nil)
	assert.Zero(t, buf.Len())
}

func TestNoopLogger(t *testing.T) {
	t.Parallel()

	l := NewNoopLogger()
	assert.NotPanics(t, func() {
		l.LogEvent(context.Background(), NewEvent(EventTypeSecurity, ActionSuspiciousActivity, OutcomeFailure))
		l.LogAuthentication(context.Background(), OutcomeFailure, nil, nil, "invalid_token")
		l.LogAuthorization(context.Background(), OutcomeDenied, nil, nil)
		l.LogSecurity(context.Background(), ActionRateLimitExceeded, nil, nil)
	})
}

func TestAuthorizationEvent_Action(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ActionAccess, AuthorizationEvent(OutcomeSuccess, nil, nil).Action)
	assert.Equal(t, ActionDeny, AuthorizationEvent(OutcomeDenied, nil, nil).Action)
}
