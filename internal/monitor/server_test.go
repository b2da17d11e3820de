package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/protoreg/internal/metrics"
	"github.com/sawpanic/protoreg/internal/optim"
	"github.com/sawpanic/protoreg/internal/persistence"
)

type fakeHealth struct{ err error }

func (f fakeHealth) Health(ctx context.Context) persistence.HealthCheck {
	check := persistence.HealthCheck{Healthy: f.err == nil, LastCheck: time.Now()}
	if f.err != nil {
		check.Errors = []string{f.err.Error()}
	}
	return check
}

func (f fakeHealth) Ping(ctx context.Context) error { return f.err }

func newTestServer(t *testing.T, health persistence.RepositoryHealth) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("127.0.0.1:0", metrics.NewRegistry(), NewHub(zerolog.Nop()), health, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
	})
	return s, ts
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Nil(t, body.Database)
}

func TestServer_HealthDegraded(t *testing.T) {
	_, ts := newTestServer(t, fakeHealth{err: errors.New("connection refused")})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	require.NotNil(t, body.Database)
	assert.False(t, body.Database.Healthy)
}

func TestServer_Progress(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/progress")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.hub.Report(optim.Progress{RunID: "r", Iteration: 300, J: 0.5})
	resp, err = http.Get(ts.URL + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var p optim.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, 300, p.Iteration)
}

func TestServer_Metrics(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.metrics.Report(optim.Progress{Iteration: 42})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "protoreg_training_iteration 42")
}

func TestHub_StreamsProgress(t *testing.T) {
	s, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.hub.Report(optim.Progress{RunID: "r", Iteration: 10, J: 1})
	s.hub.Report(optim.Progress{RunID: "r", Iteration: 20, J: 0.5, Final: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second optim.Progress
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 10, first.Iteration)
	assert.Equal(t, 20, second.Iteration)
	assert.True(t, second.Final)

	conn.Close()
	assert.Eventually(t, func() bool { return s.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SendsLatestOnConnect(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.hub.Report(optim.Progress{Iteration: 5})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var p optim.Progress
	require.NoError(t, conn.ReadJSON(&p))
	assert.Equal(t, 5, p.Iteration)
}
