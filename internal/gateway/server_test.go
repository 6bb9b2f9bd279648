package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/rentgw/internal/health"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit/store"
)

func TestStatus_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   string
	}{
		{StatusStopped, "stopped"},
		{StatusStarting, "starting"},
		{StatusRunning, "running"},
		{StatusStopping, "stopping"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Server.Address = "127.0.0.1:0"

	st := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = st.Close() })

	s, err := NewState(context.Background(), cfg, WithStore(st))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return NewServer(s)
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	assert.Equal(t, StatusStopped, srv.Status())
	assert.Nil(t, srv.Addr())
	assert.Zero(t, srv.Uptime())

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, StatusRunning, srv.Status())
	require.NotNil(t, srv.Addr())

	assert.Error(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr().String() + PathHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	var live health.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&live))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, health.StatusHealthy, live.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	assert.Equal(t, StatusStopped, srv.Status())
	assert.NoError(t, srv.Err())
	select {
	case <-srv.Done():
	default:
		t.Fatal("server still serving after Stop")
	}

	ready := srv.state.Health.Readiness(context.Background())
	assert.Equal(t, health.StatusUnhealthy, ready.Status)
}

func TestServer_StopWhenNotRunning(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	assert.Error(t, srv.Stop(context.Background()))
}

func TestServer_StartListenError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.server.Addr = "256.0.0.1:80"

	assert.Error(t, srv.Start(context.Background()))
	assert.Equal(t, StatusStopped, srv.Status())
}
