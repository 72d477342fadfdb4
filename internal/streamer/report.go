// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package streamer

import "github.com/relabs-tech/imu_streamer/internal/router"

// DeviceReport is what happened to one requested address.
type DeviceReport struct {
	Address         string        `json:"address"`
	OpenError       string        `json:"open_error,omitempty"`
	ActivationError string        `json:"activation_error,omitempty"`
	ReadError       string        `json:"read_error,omitempty"`
	Router          *router.Stats `json:"router,omitempty"`
	Frames          uint64        `json:"frames"`
	Anomalies       uint64        `json:"anomalies"`
	Opened          bool          `json:"opened"`
	Activated       bool          `json:"activated"`
	Streaming       bool          `json:"streaming"`
}

// Report is a snapshot of the pipeline with one entry per requested address,
// in request order.
type Report struct {
	State   string         `json:"state"`
	Devices []DeviceReport `json:"devices"`
}

// Device returns the entry for address.
func (r Report) Device(address string) (DeviceReport, bool) {
	for _, d := range r.Devices {
		if d.Address == address {
			return d, true
		}
	}
	return DeviceReport{}, false
}

// Opened lists the addresses that opened.
func (r Report) Opened() []string {
	var out []string
	for _, d := range r.Devices {
		if d.Opened {
			out = append(out, d.Address)
		}
	}
	return out
}

// Failed lists the addresses that hit any error.
func (r Report) Failed() []string {
	var out []string
	for _, d := range r.Devices {
		if d.OpenError != "" || d.ActivationError != "" || d.ReadError != "" {
			out = append(out, d.Address)
		}
	}
	return out
}
