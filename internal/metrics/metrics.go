// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics holds the streamer's Prometheus instruments. All methods
// are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imu_streamer"

// Drop reasons.
const (
	ReasonQueueFull    = "queue_full"
	ReasonPublishError = "publish_error"
)

type Metrics struct {
	registry *prometheus.Registry

	FramesDecoded    *prometheus.CounterVec
	SamplesDecoded   *prometheus.CounterVec
	DecodeAnomalies  *prometheus.CounterVec
	DiscardedBytes   *prometheus.CounterVec
	SamplesPublished *prometheus.CounterVec
	SamplesDropped   *prometheus.CounterVec
	ReadErrors       *prometheus.CounterVec
	DeviceState      *prometheus.GaugeVec
	PipelineState    prometheus.Gauge
}

// New creates the instruments on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FramesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "frames_total",
				Help:      "Frames consumed, including ones with an unknown type byte",
			},
			[]string{"device"},
		),
		SamplesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "samples_total",
				Help:      "Samples decoded by measurement kind",
			},
			[]string{"device", "kind"},
		),
		DecodeAnomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "anomalies_total",
				Help:      "Buffers dropped because they did not start with the sync byte",
			},
			[]string{"device"},
		),
		DiscardedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "discarded_bytes_total",
				Help:      "Bytes dropped while resynchronizing",
			},
			[]string{"device"},
		),
		SamplesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "published_total",
				Help:      "Samples pushed to the output channel",
			},
			[]string{"device"},
		),
		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "dropped_total",
				Help:      "Samples not delivered to the output channel",
			},
			[]string{"device", "reason"},
		),
		ReadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "read_errors_total",
				Help:      "Transport read failures that ended a device's stream",
			},
			[]string{"device"},
		),
		DeviceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "state",
				Help:      "Device state (0=closed, 1=opened, 2=activated)",
			},
			[]string{"device"},
		),
		PipelineState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "state",
				Help:      "Pipeline state (0=idle, 1=opening, 2=activating, 3=streaming, 4=stopping)",
			},
		),
	}

	m.registry.MustRegister(
		m.FramesDecoded,
		m.SamplesDecoded,
		m.DecodeAnomalies,
		m.DiscardedBytes,
		m.SamplesPublished,
		m.SamplesDropped,
		m.ReadErrors,
		m.DeviceState,
		m.PipelineState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Decoded(device string, frames int, kinds map[string]int) {
	if m == nil {
		return
	}
	if frames > 0 {
		m.FramesDecoded.WithLabelValues(device).Add(float64(frames))
	}
	for kind, n := range kinds {
		m.SamplesDecoded.WithLabelValues(device, kind).Add(float64(n))
	}
}

func (m *Metrics) Anomaly(device string, discarded int) {
	if m == nil {
		return
	}
	m.DecodeAnomalies.WithLabelValues(device).Inc()
	m.DiscardedBytes.WithLabelValues(device).Add(float64(discarded))
}

func (m *Metrics) Published(device string) {
	if m == nil {
		return
	}
	m.SamplesPublished.WithLabelValues(device).Inc()
}

func (m *Metrics) Dropped(device, reason string) {
	if m == nil {
		return
	}
	m.SamplesDropped.WithLabelValues(device, reason).Inc()
}

func (m *Metrics) ReadError(device string) {
	if m == nil {
		return
	}
	m.ReadErrors.WithLabelValues(device).Inc()
}

func (m *Metrics) SetDeviceState(device string, state int) {
	if m == nil {
		return
	}
	m.DeviceState.WithLabelValues(device).Set(float64(state))
}

func (m *Metrics) SetPipelineState(state int) {
	if m == nil {
		return
	}
	m.PipelineState.Set(float64(state))
}
