// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package simulator provides serial ports backed by fake IMUs, so the
// pipeline can run without hardware. A simulated device stays silent until it
// receives the role handshake, then emits one accel, gyro and euler frame per
// interval, following a smooth made-up motion.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/relabs-tech/imu_streamer/internal/transport"
	"github.com/relabs-tech/imu_streamer/internal/witmotion"
)

var (
	ErrUnknownAddress = errors.New("simulator: unknown address")
	ErrPortBusy       = errors.New("simulator: port already open")
	ErrClosed         = errors.New("simulator: port closed")
	ErrBaudRate       = errors.New("simulator: unsupported baud rate")
)

const (
	DefaultInterval = 10 * time.Millisecond
	// maxBacklog caps how many intervals are generated at once after a
	// long gap between reads.
	maxBacklog = 50
)

type Options struct {
	Clock    clockwork.Clock
	Interval time.Duration
}

// Transport hands out simulated ports for a fixed set of addresses.
type Transport struct {
	clock     clockwork.Clock
	open      map[string]*Port
	addresses []string
	interval  time.Duration
	mu        sync.Mutex
}

// New returns a Transport serving addresses. With no addresses it serves
// SIM0 and SIM1.
func New(addresses []string, opts Options) *Transport {
	if len(addresses) == 0 {
		addresses = []string{"SIM0", "SIM1"}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Transport{
		clock:     opts.Clock,
		addresses: append([]string(nil), addresses...),
		interval:  opts.Interval,
		open:      make(map[string]*Port),
	}
}

func (t *Transport) ListAddresses() ([]string, error) {
	return append([]string(nil), t.addresses...), nil
}

func (t *Transport) Open(address string, baud int) (transport.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !slices.Contains(t.addresses, address) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	if baud != witmotion.BaudRate {
		return nil, fmt.Errorf("%w: %d", ErrBaudRate, baud)
	}
	if p, ok := t.open[address]; ok && !p.isClosed() {
		return nil, fmt.Errorf("%w: %s", ErrPortBusy, address)
	}

	p := newPort(t.clock, t.interval, t.phase(address))
	t.open[address] = p
	return p, nil
}

// phase offsets each device's motion so that streams differ.
func (t *Transport) phase(address string) float64 {
	for i, a := range t.addresses {
		if a == address {
			return float64(i) * 0.9
		}
	}
	return 0
}

// Port is one simulated device.
type Port struct {
	clock    clockwork.Clock
	start    time.Time
	next     time.Time
	closedCh chan struct{}
	pending  []byte
	timeout  time.Duration
	interval time.Duration
	phase    float64
	role     string
	closed   bool
	mu       sync.Mutex
}

func newPort(clock clockwork.Clock, interval time.Duration, phase float64) *Port {
	return &Port{
		clock:    clock,
		start:    clock.Now(),
		interval: interval,
		phase:    phase,
		timeout:  100 * time.Millisecond,
		closedCh: make(chan struct{}),
	}
}

// Write accepts commands. Only the role handshake has an effect; the
// device starts broadcasting once it is told to become a slave after having
// been a master.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	switch strings.TrimSpace(string(b)) {
	case witmotion.CommandRoleMaster:
		p.role = witmotion.CommandRoleMaster
	case witmotion.CommandRoleSlave:
		if p.role == witmotion.CommandRoleMaster && p.next.IsZero() {
			p.next = p.clock.Now()
		}
		p.role = witmotion.CommandRoleSlave
	}
	return len(b), nil
}

// Broadcasting reports whether the handshake has completed.
func (p *Port) Broadcasting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.next.IsZero()
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	p.generate()
	if len(p.pending) == 0 {
		wait := p.timeout
		if !p.next.IsZero() {
			if d := p.next.Sub(p.clock.Now()); d < wait {
				wait = d
			}
		}
		p.mu.Unlock()

		select {
		case <-p.clock.After(wait):
		case <-p.closedCh:
			return 0, ErrClosed
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrClosed
		}
		p.generate()
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

// generate appends frames for every interval that has elapsed. Callers hold
// p.mu.
func (p *Port) generate() {
	if p.next.IsZero() {
		return
	}
	now := p.clock.Now()
	for i := 0; !p.next.After(now); i++ {
		if i == maxBacklog {
			p.next = now.Add(p.interval)
			break
		}
		p.pending = append(p.pending, frames(p.next.Sub(p.start).Seconds()+p.phase)...)
		p.next = p.next.Add(p.interval)
	}
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closedCh)
	return nil
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// frames renders the motion at time t (seconds) as accel, gyro and euler
// frames.
func frames(t float64) []byte {
	roll := 10 * math.Sin(0.5*t)
	pitch := 8 * math.Cos(0.35*t)
	yaw := math.Mod(12*t, 360)
	if yaw > 180 {
		yaw -= 360
	}

	rollRate := 5 * math.Cos(0.5*t)
	pitchRate := -2.8 * math.Sin(0.35*t)
	yawRate := 12.0

	r, pt := roll*math.Pi/180, pitch*math.Pi/180
	ax := -math.Sin(pt)
	ay := math.Sin(r) * math.Cos(pt)
	az := math.Cos(r) * math.Cos(pt)

	out := make([]byte, 0, 3*witmotion.FrameSize)
	a := witmotion.EncodeFrame(witmotion.TypeAcceleration, raw(ax, 16), raw(ay, 16), raw(az, 16))
	g := witmotion.EncodeFrame(witmotion.TypeAngularVelocity, raw(rollRate, 16), raw(pitchRate, 16), raw(yawRate, 16))
	e := witmotion.EncodeFrame(witmotion.TypeOrientation, raw(roll, 180), raw(pitch, 180), raw(yaw, 180))
	out = append(out, a[:]...)
	out = append(out, g[:]...)
	return append(out, e[:]...)
}

// raw converts a physical value to the device's int16 representation for a
// given full scale.
func raw(v, scale float64) int16 {
	x := math.Round(v / scale * 32768)
	return int16(max(math.MinInt16, min(math.MaxInt16, x)))
}
