package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
	"github.com/vyrodovalexey/rentgw/internal/observability"
)

func TestClientIPExtractor_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		trustedProxies []string
		remoteAddr     string
		xff            []string
		want           string
	}{
		{
			name:       "no trusted proxies ignores header",
			remoteAddr: "203.0.113.7:4000",
			xff:        []string{"198.51.100.1"},
			want:       "203.0.113.7",
		},
		{
			name:           "untrusted peer ignores header",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "203.0.113.7:4000",
			xff:            []string{"198.51.100.1"},
			want:           "203.0.113.7",
		},
		{
			name:           "trusted peer uses rightmost untrusted hop",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "10.0.0.2:4000",
			xff:            []string{"1.1.1.1, 198.51.100.1, 10.0.0.5"},
			want:           "198.51.100.1",
		},
		{
			name:           "multiple header lines",
			trustedProxies: []string{"10.0.0.1"},
			remoteAddr:     "10.0.0.1:4000",
			xff:            []string{"198.51.100.1", "10.0.0.1"},
			want:           "198.51.100.1",
		},
		{
			name:           "all trusted falls back to peer",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "10.0.0.2:4000",
			xff:            []string{"10.0.0.3"},
			want:           "10.0.0.2",
		},
		{
			name:           "malformed hop falls back to peer",
			trustedProxies: []string{"10.0.0.0/8"},
			remoteAddr:     "10.0.0.2:4000",
			xff:            []string{"198.51.100.1, not-an-ip"},
			want:           "10.0.0.2",
		},
		{
			name:           "ipv6 peer",
			trustedProxies: []string{"fd00::/8"},
			remoteAddr:     "[fd00::1]:4000",
			xff:            []string{"2001:db8::1"},
			want:           "2001:db8::1",
		},
		{
			name:           "invalid proxy entry is skipped",
			trustedProxies: []string{"bogus"},
			remoteAddr:     "10.0.0.2:4000",
			xff:            []string{"198.51.100.1"},
			want:           "10.0.0.2",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewClientIPExtractor(tt.trustedProxies)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				r.Header.Add(HeaderXForwardedFor, v)
			}

			assert.Equal(t, tt.want, e.Extract(r))
		})
	}
}

func TestClientIPExtractor_Nil(t *testing.T) {
	t.Parallel()

	var e *ClientIPExtractor
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1"
	assert.Equal(t, "192.0.2.1", e.Extract(r))
}

func TestCorrelation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		headers         map[string]string
		wantRequest     string
		wantCorrelation string
	}{
		{
			name:            "generated",
			wantRequest:     "gen-1",
			wantCorrelation: "gen-1",
		},
		{
			name:            "request id reused as correlation id",
			headers:         map[string]string{HeaderRequestID: "req-9"},
			wantRequest:     "req-9",
			wantCorrelation: "req-9",
		},
		{
			name:            "correlation id wins",
			headers:         map[string]string{HeaderRequestID: "req-9", HeaderCorrelationID: "corr-3"},
			wantRequest:     "req-9",
			wantCorrelation: "corr-3",
		},
		{
			name:            "correlation id alone",
			headers:         map[string]string{HeaderCorrelationID: "corr-3"},
			wantRequest:     "gen-1",
			wantCorrelation: "corr-3",
		},
		{
			name:            "invalid ids are replaced",
			headers:         map[string]string{HeaderRequestID: "bad id", HeaderCorrelationID: strings.Repeat("x", 200)},
			wantRequest:     "gen-1",
			wantCorrelation: "gen-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotRequest, gotCorrelation string
			h := CorrelationWithGenerator(func() string { return "gen-1" })(
				http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
					gotRequest = observability.RequestIDFromContext(r.Context())
					gotCorrelation = observability.CorrelationIDFromContext(r.Context())
				}),
			)

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.wantRequest, gotRequest)
			assert.Equal(t, tt.wantCorrelation, gotCorrelation)
			assert.Equal(t, tt.wantRequest, rec.Header().Get(HeaderRequestID))
			assert.Equal(t, tt.wantCorrelation, rec.Header().Get(HeaderCorrelationID))
		})
	}
}

func TestCorrelation_GeneratesUUID(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Correlation()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Writer: &buf})
	require.NoError(t, err)
	metrics := observability.NewMetrics("test")

	h := Logging(logger,
		WithRequestMetrics(metrics),
		WithRouteResolver(func(*http.Request) string { return "properties" }),
		WithClientIPExtractor(NewClientIPExtractor(nil)),
	)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	h.ServeHTTP(httptest.NewRecorder(), r)
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var started, completed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &started))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &completed))

	assert.Equal(t, "request started", started["message"])
	assert.Equal(t, "request completed", completed["message"])
	assert.Equal(t, float64(http.StatusTeapot), completed["status"])
	assert.Equal(t, float64(15), completed["size"])
	assert.Equal(t, "properties", completed["route"])
	assert.Equal(t, "192.0.2.10", completed["client_ip"])
	assert.Contains(t, completed, "duration")
}

func TestResponseWriter_IgnoresSecondWriteHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("x"))

	assert.Equal(t, http.StatusAccepted, rw.status)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Same(t, rec, rw.Unwrap())
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	transformer := apierror.NewTransformer(apierror.WithProduction(true))

	h := Correlation()(Recovery(observability.NopLogger(), transformer, metrics)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}),
	))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env apierror.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, apierror.CodeInternal, env.ErrorCode)
	assert.Equal(t, rec.Header().Get(HeaderCorrelationID), env.CorrelationID)
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.panicsRecovered))
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	t.Parallel()

	h := Recovery(observability.NopLogger(), apierror.NewTransformer(), nil)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}),
	)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestBodyLimit_RejectsDeclaredLength(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	called := false

	h := BodyLimit(4, apierror.NewTransformer(), observability.NopLogger(), metrics)(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), apierror.CodeValidation)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.bodyLimitRejected))
}

func TestBodyLimit_StreamedBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "under limit", body: "abc"},
		{name: "exactly the limit", body: "abcd"},
		{name: "over limit", body: "abcdefgh", wantErr: ErrBodyTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				got     []byte
				readErr error
			)
			h := BodyLimit(4, apierror.NewTransformer(), observability.NopLogger(), nil)(
				http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
					got, readErr = io.ReadAll(r.Body)
				}),
			)

			r := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader(tt.body)))
			r.ContentLength = -1
			h.ServeHTTP(httptest.NewRecorder(), r)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(readErr, tt.wantErr))
				return
			}
			require.NoError(t, readErr)
			assert.Equal(t, tt.body, string(got))
		})
	}
}
