// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/relabs-tech/imu_streamer/internal/imu"
	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/syncutil"
	"github.com/relabs-tech/imu_streamer/internal/transport"
	"github.com/relabs-tech/imu_streamer/internal/witmotion"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrChannelUnavailable   = errors.New("output channel unavailable")
	ErrNotOpen              = errors.New("device not open")
)

// Options configures a Registry.
type Options struct {
	Transport transport.Transport
	Publisher publish.Publisher
	Metrics   *metrics.Metrics
	// StreamInfo is the template for every device's channel; SourceID is
	// replaced with the device address.
	StreamInfo  publish.StreamInfo
	ReadTimeout time.Duration
}

// DefaultStreamInfo describes the 4-channel stream every device publishes.
func DefaultStreamInfo() publish.StreamInfo {
	return publish.StreamInfo{
		Name:          "BT",
		Type:          "IMU",
		ChannelCount:  imu.VectorSize,
		ChannelFormat: publish.FormatDouble64,
	}
}

// Registry holds at most one Device per address.
type Registry struct {
	opts    Options
	devices map[string]*Device
	mu      syncutil.Mutex
}

func NewRegistry(opts Options) *Registry {
	if opts.StreamInfo.ChannelCount == 0 {
		opts.StreamInfo = DefaultStreamInfo()
	}
	return &Registry{
		opts:    opts,
		devices: make(map[string]*Device),
	}
}

// Open connects to address, or returns the live Device if it is already
// open. The output channel exists before Open returns, so nothing read from
// the device can arrive before there is somewhere to send it.
func (r *Registry) Open(address string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[address]; ok {
		return d, nil
	}

	port, err := r.opts.Transport.Open(address, witmotion.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransportUnavailable, address, err)
	}
	if r.opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(r.opts.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrTransportUnavailable, address, err)
		}
	}

	info := r.opts.StreamInfo
	info.SourceID = address
	ch, err := r.opts.Publisher.CreateChannel(info)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrChannelUnavailable, address, err)
	}

	d := newDevice(address, port, ch)
	r.devices[address] = d
	r.opts.Metrics.SetDeviceState(address, int(Opened))
	log.Info().Str("device", address).Int("baud", witmotion.BaudRate).Msg("device opened")
	return d, nil
}

// Get returns the open Device for address.
func (r *Registry) Get(address string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[address]
	return d, ok
}

// Devices returns the open devices ordered by address.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address < out[j].address })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Close removes and closes the device at address.
func (r *Registry) Close(address string) error {
	r.mu.Lock()
	d, ok := r.devices[address]
	delete(r.devices, address)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, address)
	}
	return r.closeDevice(d)
}

// CloseAll closes every device and leaves the registry empty. It is a no-op
// on an empty registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	addresses := make([]string, 0, len(devices))
	for a := range devices {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)

	var errs []error
	for _, a := range addresses {
		if err := r.closeDevice(devices[a]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) closeDevice(d *Device) error {
	err := d.Close()
	r.opts.Metrics.SetDeviceState(d.address, int(Closed))
	if err != nil {
		log.Warn().Err(err).Str("device", d.address).Msg("device closed with errors")
		return err
	}
	log.Info().Str("device", d.address).Msg("device closed")
	return nil
}
