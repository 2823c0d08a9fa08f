package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/identity"
	"github.com/soccerdata/tmfetch/internal/monitor"
	"github.com/soccerdata/tmfetch/internal/pacing"
	"github.com/soccerdata/tmfetch/internal/session"
)

func newTestServer(t *testing.T) (*Server, *monitor.Monitor) {
	t.Helper()
	mon := monitor.New(false)
	sessions := session.NewManager(session.Config{
		SessionTimeout: time.Hour,
		MaxSessions:    5,
		MaxConcurrent:  2,
		AcquireTimeout: time.Second,
		RequestTimeout: 30 * time.Second,
	}, identity.NewPool(identity.Options{}), pacing.New(0, 0, 0), mon, zap.NewNop())
	return NewServer(mon, sessions, zap.NewNop()), mon
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	s, mon := newTestServer(t)
	mon.RecordSuccess(100 * time.Millisecond)
	mon.RecordBlocked(50 * time.Millisecond)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload struct {
		RequestsTotal  int64 `json:"requests_total"`
		BlocksDetected int64 `json:"blocks_detected"`
		SessionPool    struct {
			MaxSessions         int `json:"max_sessions"`
			UserAgentsAvailable int `json:"user_agents_available"`
		} `json:"session_pool"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.EqualValues(t, 2, payload.RequestsTotal)
	require.EqualValues(t, 1, payload.BlocksDetected)
	require.Equal(t, 5, payload.SessionPool.MaxSessions)
	require.Greater(t, payload.SessionPool.UserAgentsAvailable, 0)
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
