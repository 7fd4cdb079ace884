package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylebending/win-event-engine/internal/logging"
	"github.com/stylebending/win-event-engine/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *metrics.Collector, *httptest.Server) {
	t.Helper()
	collector := metrics.New()
	t.Cleanup(collector.Stop)
	srv := New(collector, logging.New("httpserver", "debug", "text"))
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return srv, collector, ts
}

func TestHealthEndpointReportsHealthy(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestMetricsEndpointIsPrometheusText(t *testing.T) {
	_, collector, ts := newTestServer(t)
	collector.Increment("events_total", metrics.Labels{"plugin": "p"}, 1)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/plain; version=0.0.4", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), "events_total")
}

func TestSnapshotEndpointReturnsJSON(t *testing.T) {
	_, collector, ts := newTestServer(t)
	collector.SetGauge("bus_depth", nil, 3)

	resp, err := http.Get(ts.URL + "/api/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, float64(3), snap.Gauges["bus_depth"])
}

func TestDashboardServesHTML(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestWebSocketPushesInitialSnapshotThenBroadcastUpdate(t *testing.T) {
	_, collector, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first wireFrame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)

	collector.PublishHealth("healthy")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var second wireFrame
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, string(metrics.UpdateHealth), second.Type)
}
