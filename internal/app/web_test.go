package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/relabs-tech/imu_streamer/internal/config"
	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/simulator"
	"github.com/relabs-tech/imu_streamer/internal/streamer"
	"github.com/relabs-tech/imu_streamer/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStatusHandler_WebSocketBackend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hub := publish.NewWebSocketHub(8)
	m := metrics.New()
	o := streamer.New(streamer.Options{
		Transport: simulator.New([]string{"SIM0"}, simulator.Options{Clock: clock}),
		Publisher: hub,
		Clock:     clock,
		Metrics:   m,
	})

	stop := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				clock.Advance(100 * time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-ticking
	})
	t.Cleanup(func() { o.Stop() })

	_, err := o.Start(context.Background(), []string{"SIM0", "SIM9"})
	require.NoError(t, err)

	srv := httptest.NewServer(newStatusHandler(o, m, hub))
	defer srv.Close()

	code, body := get(t, srv, "/api/devices")
	require.Equal(t, http.StatusOK, code)
	var report streamer.Report
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, "streaming", report.State)
	assert.Equal(t, []string{"SIM0"}, report.Opened())
	assert.Equal(t, []string{"SIM9"}, report.Failed())

	code, body = get(t, srv, "/api/channels")
	require.Equal(t, http.StatusOK, code)
	var infos []publish.StreamInfo
	require.NoError(t, json.Unmarshal([]byte(body), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "SIM0", infos[0].SourceID)
	assert.Equal(t, "BT", infos[0].Name)

	code, body = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "imu_streamer_pipeline_state")
}

func TestStatusHandler_WithoutHub(t *testing.T) {
	o := streamer.New(streamer.Options{})
	srv := httptest.NewServer(newStatusHandler(o, metrics.New(), nil))
	defer srv.Close()

	code, _ := get(t, srv, "/api/channels")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, srv, "/ws")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := get(t, srv, "/api/devices")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"state":"idle"`)
}

func TestNewTransport(t *testing.T) {
	cfg := config.Default()

	cfg.SerialDriver = config.DriverSim
	tr, err := newTransport(cfg)
	require.NoError(t, err)
	assert.IsType(t, &simulator.Transport{}, tr)

	cfg.SerialDriver = transport.DriverJacobsa
	tr, err = newTransport(cfg)
	require.NoError(t, err)
	assert.IsType(t, &transport.Jacobsa{}, tr)
}

func TestNewPublisher_WebSocket(t *testing.T) {
	cfg := config.Default()
	cfg.PublishBackend = config.BackendWebSocket

	pub, hub, closePub, err := newPublisher(cfg)
	require.NoError(t, err)
	defer closePub()
	assert.Same(t, hub, pub)
}

func TestRunListPorts_Simulator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunListPorts(&buf, config.DriverSim))
	assert.Equal(t, []string{"SIM0", "SIM1"}, strings.Fields(buf.String()))
}

func TestRunListPorts_UnknownDriver(t *testing.T) {
	require.Error(t, RunListPorts(io.Discard, "usb"))
}
