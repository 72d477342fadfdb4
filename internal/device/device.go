// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package device owns the connections to physical IMUs: one transport port,
// one decoder and one output channel per address.
package device

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/transport"
	"github.com/relabs-tech/imu_streamer/internal/witmotion"
)

// State is the lifecycle position of a Device.
type State int32

const (
	Closed State = iota
	Opened
	Activated
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opened:
		return "opened"
	case Activated:
		return "activated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Device is one open IMU connection. The decoder belongs to whichever
// goroutine reads the device; everything else is safe for concurrent use.
type Device struct {
	port      transport.Port
	channel   publish.Channel
	decoder   *witmotion.Decoder
	closeErr  error
	address   string
	state     atomic.Int32
	closeOnce sync.Once
}

func newDevice(address string, port transport.Port, channel publish.Channel) *Device {
	d := &Device{
		address: address,
		port:    port,
		channel: channel,
		decoder: witmotion.NewDecoder(),
	}
	d.state.Store(int32(Opened))
	return d
}

func (d *Device) Address() string {
	return d.address
}

func (d *Device) State() State {
	return State(d.state.Load())
}

// MarkActivated records a completed handshake. It has no effect on a closed
// device.
func (d *Device) MarkActivated() {
	d.state.CompareAndSwap(int32(Opened), int32(Activated))
}

func (d *Device) Read(p []byte) (int, error) {
	return d.port.Read(p)
}

func (d *Device) Write(p []byte) (int, error) {
	return d.port.Write(p)
}

func (d *Device) Channel() publish.Channel {
	return d.channel
}

func (d *Device) Decoder() *witmotion.Decoder {
	return d.decoder
}

// Close releases the port and the output channel. Only the first call does
// any work; later calls return the same result.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.state.Store(int32(Closed))
		var errs []error
		if err := d.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close port %s: %w", d.address, err))
		}
		if err := d.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %s: %w", d.address, err))
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
