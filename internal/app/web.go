// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/streamer"
	"github.com/rs/zerolog/log"
)

// newStatusHandler serves the pipeline report, Prometheus metrics and, when
// the websocket backend is in use, the sample stream.
func newStatusHandler(o *streamer.Orchestrator, m *metrics.Metrics, hub *publish.WebSocketHub) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: current report
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, o.Report())
	})

	mux.HandleFunc("GET /api/channels", func(w http.ResponseWriter, _ *http.Request) {
		if hub == nil {
			http.Error(w, "websocket backend not enabled", http.StatusNotFound)
			return
		}
		writeJSON(w, hub.Channels())
	})

	mux.Handle("GET /metrics", m.Handler())

	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("json encode error")
	}
}

func newStatusServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
