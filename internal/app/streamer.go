// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/imu_streamer/internal/config"
	"github.com/relabs-tech/imu_streamer/internal/imu"
	"github.com/relabs-tech/imu_streamer/internal/logging"
	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/simulator"
	"github.com/relabs-tech/imu_streamer/internal/streamer"
	"github.com/relabs-tech/imu_streamer/internal/transport"
	"github.com/rs/zerolog/log"
)

// Overrides are command line values that replace the configuration file.
type Overrides struct {
	Ports  []string
	Driver string
}

// RunStreamer opens the configured devices, activates them and publishes
// their samples until SIGINT/SIGTERM or until every device has stopped.
func RunStreamer(over Overrides) error {
	cfg := *config.Get()
	if len(over.Ports) > 0 {
		cfg.SerialPorts = over.Ports
	}
	if over.Driver != "" {
		cfg.SerialDriver = over.Driver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}

	tr, err := newTransport(&cfg)
	if err != nil {
		return err
	}
	addresses := cfg.SerialPorts
	if len(addresses) == 0 {
		if addresses, err = tr.ListAddresses(); err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}
		log.Info().Strs("ports", addresses).Msg("no ports configured, using every port found")
	}
	if len(addresses) == 0 {
		return errors.New("no serial ports configured or found")
	}

	m := metrics.New()
	pub, hub, closePub, err := newPublisher(&cfg)
	if err != nil {
		return err
	}
	defer closePub()

	info := publish.StreamInfo{
		Name:          cfg.StreamName,
		Type:          cfg.StreamType,
		ChannelCount:  imu.VectorSize,
		ChannelFormat: publish.FormatDouble64,
	}
	o := streamer.New(streamer.Options{
		Transport:   tr,
		Publisher:   pub,
		Metrics:     m,
		StreamInfo:  info,
		ReadTimeout: cfg.ReadTimeout(),
		IdleSleep:   cfg.IdleSleep(),
		QueueSize:   cfg.PublishQueueSize,
		PushTimeout: cfg.PublishTimeout(),
	})

	var srv *http.Server
	if cfg.WebServerPort > 0 {
		srv = newStatusServer(cfg.WebServerPort, newStatusHandler(o, m, hub))
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
		defer shutdownServer(srv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := o.Start(ctx, addresses)
	logReport("start", report)
	if err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case <-o.Done():
		log.Warn().Msg("every device stopped streaming")
	}

	logReport("stop", o.Stop())
	return nil
}

func newTransport(cfg *config.Config) (transport.Transport, error) {
	if cfg.SerialDriver == config.DriverSim {
		log.Info().Msg("using simulated devices")
		return simulator.New(cfg.SerialPorts, simulator.Options{}), nil
	}
	return transport.New(cfg.SerialDriver, cfg.ReadTimeout())
}

func newPublisher(cfg *config.Config) (publish.Publisher, *publish.WebSocketHub, func(), error) {
	switch cfg.PublishBackend {
	case config.BackendWebSocket:
		hub := publish.NewWebSocketHub(cfg.PublishQueueSize)
		return hub, hub, func() {}, nil
	default:
		m, err := publish.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicPrefix)
		if err != nil {
			return nil, nil, nil, err
		}
		return m, nil, m.Close, nil
	}
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("status server shutdown")
	}
}

func logReport(phase string, r streamer.Report) {
	for _, d := range r.Devices {
		ev := log.Info()
		if d.OpenError != "" || d.ActivationError != "" || d.ReadError != "" {
			ev = log.Warn()
		}
		ev = ev.Str("phase", phase).Str("device", d.Address).
			Bool("opened", d.Opened).Bool("activated", d.Activated)
		if d.OpenError != "" {
			ev = ev.Str("open_error", d.OpenError)
		}
		if d.ActivationError != "" {
			ev = ev.Str("activation_error", d.ActivationError)
		}
		if d.ReadError != "" {
			ev = ev.Str("read_error", d.ReadError)
		}
		if d.Router != nil {
			ev = ev.Uint64("published", d.Router.Published).Uint64("dropped", d.Router.Dropped+d.Router.Failed)
		}
		ev.Uint64("frames", d.Frames).Uint64("anomalies", d.Anomalies).Msg("device report")
	}
	log.Info().Str("phase", phase).Str("state", r.State).
		Int("opened", len(r.Opened())).Int("failed", len(r.Failed())).Msg("pipeline report")
}
