// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package streamer runs the pipeline: open every requested device, put them
// into broadcast mode, then read, decode and publish until stopped.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/relabs-tech/imu_streamer/internal/activation"
	"github.com/relabs-tech/imu_streamer/internal/device"
	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/router"
	"github.com/relabs-tech/imu_streamer/internal/syncutil"
	"github.com/relabs-tech/imu_streamer/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the pipeline's lifecycle position.
type State int32

const (
	Idle State = iota
	Opening
	Activating
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Activating:
		return "activating"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrBusy      = errors.New("pipeline already running")
	ErrNoDevices = errors.New("no device could be opened")
)

const (
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultIdleSleep   = 10 * time.Millisecond

	readBufferSize = 1024
)

type Options struct {
	Transport  transport.Transport
	Publisher  publish.Publisher
	Clock      clockwork.Clock
	Metrics    *metrics.Metrics
	StreamInfo publish.StreamInfo
	// ReadTimeout is how long one read waits for bytes.
	ReadTimeout time.Duration
	// IdleSleep is the pause after a read that returned nothing.
	IdleSleep   time.Duration
	QueueSize   int
	PushTimeout time.Duration
}

// run is the live state of one streaming device.
type run struct {
	device    *device.Device
	router    *router.Router
	frames    atomic.Uint64
	anomalies atomic.Uint64
}

// Orchestrator drives Idle → Opening → Activating → Streaming → Stopping →
// Idle. Start and Stop may be called from any goroutine.
type Orchestrator struct {
	opts     Options
	registry *device.Registry
	cancel   context.CancelFunc
	group    *errgroup.Group
	done     chan struct{}
	starting chan struct{}
	reports  map[string]*DeviceReport
	runs     map[string]*run
	order    []string
	state    atomic.Int32
	mu       syncutil.Mutex
	stopMu   syncutil.Mutex
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = DefaultIdleSleep
	}
	if opts.StreamInfo.ChannelCount == 0 {
		opts.StreamInfo = device.DefaultStreamInfo()
	}

	done := make(chan struct{})
	close(done)
	starting := make(chan struct{})
	close(starting)

	return &Orchestrator{
		opts: opts,
		registry: device.NewRegistry(device.Options{
			Transport:   opts.Transport,
			Publisher:   opts.Publisher,
			Metrics:     opts.Metrics,
			StreamInfo:  opts.StreamInfo,
			ReadTimeout: opts.ReadTimeout,
		}),
		done:     done,
		starting: starting,
		reports:  make(map[string]*DeviceReport),
		runs:     make(map[string]*run),
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.opts.Metrics.SetPipelineState(int(s))
	log.Debug().Str("state", s.String()).Msg("pipeline state")
}

// Registry exposes the open devices.
func (o *Orchestrator) Registry() *device.Registry {
	return o.registry
}

// Done is closed once every read loop has ended, either because Stop was
// called or because every device failed. It is closed while Idle.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Start opens addresses, activates what opened and starts streaming. A
// device that fails to open is reported and skipped. If activation fails,
// everything is closed again and the activation error is returned. The read
// loops stop when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context, addresses []string) (Report, error) {
	o.mu.Lock()
	if o.State() != Idle {
		o.mu.Unlock()
		return o.Report(), ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.group = &errgroup.Group{}
	o.starting = make(chan struct{})
	o.reports = make(map[string]*DeviceReport)
	o.runs = make(map[string]*run)
	o.order = o.order[:0]
	for _, a := range dedupe(addresses) {
		o.order = append(o.order, a)
		o.reports[a] = &DeviceReport{Address: a}
	}
	o.setState(Opening)
	starting := o.starting
	o.mu.Unlock()
	defer close(starting)

	if err := o.registry.CloseAll(); err != nil {
		log.Warn().Err(err).Msg("closing leftover devices")
	}

	opened, openErrs := o.open(runCtx)
	if len(opened) == 0 {
		o.teardown()
		err := ErrNoDevices
		if len(openErrs) > 0 {
			err = fmt.Errorf("%w: %w", ErrNoDevices, errors.Join(openErrs...))
		}
		return o.Report(), err
	}

	o.setState(Activating)
	writers := make([]activation.Writer, len(opened))
	for i, d := range opened {
		writers[i] = d
	}
	res := activation.Activate(runCtx, o.opts.Clock, writers)
	if !res.OK() {
		o.mu.Lock()
		for _, d := range opened {
			o.reports[d.Address()].ActivationError = res.Err.Error()
		}
		o.mu.Unlock()
		log.Error().Err(res.Err).Int("steps_completed", res.Completed).Msg("activation failed, closing devices")
		o.teardown()
		return o.Report(), res.Err
	}

	o.mu.Lock()
	for _, d := range opened {
		d.MarkActivated()
		o.opts.Metrics.SetDeviceState(d.Address(), int(device.Activated))
		r := &run{
			device: d,
			router: router.New(d.Address(), d.Channel(), router.Options{
				QueueSize:   o.opts.QueueSize,
				PushTimeout: o.opts.PushTimeout,
				Metrics:     o.opts.Metrics,
			}),
		}
		o.runs[d.Address()] = r
		rep := o.reports[d.Address()]
		rep.Activated = true
		rep.Streaming = true
		o.group.Go(func() error {
			o.readLoop(runCtx, r)
			return nil
		})
	}
	done := make(chan struct{})
	o.done = done
	group := o.group
	o.setState(Streaming)
	o.mu.Unlock()

	go func() {
		_ = group.Wait()
		close(done)
	}()

	log.Info().Int("devices", len(opened)).Int("requested", len(o.order)).Msg("streaming")
	return o.Report(), nil
}

func (o *Orchestrator) open(ctx context.Context) ([]*device.Device, []error) {
	var (
		opened []*device.Device
		errs   []error
	)
	for _, a := range o.order {
		var (
			d   *device.Device
			err error
		)
		if err = ctx.Err(); err == nil {
			d, err = o.registry.Open(a)
		}

		o.mu.Lock()
		if err != nil {
			o.reports[a].OpenError = err.Error()
		} else {
			o.reports[a].Opened = true
		}
		o.mu.Unlock()

		if err != nil {
			log.Warn().Err(err).Str("device", a).Msg("failed to open device")
			errs = append(errs, err)
			continue
		}
		opened = append(opened, d)
	}
	return opened, errs
}

func (o *Orchestrator) readLoop(ctx context.Context, r *run) {
	d := r.device
	dec := d.Decoder()
	buf := make([]byte, readBufferSize)
	kinds := make(map[string]int, 3)

	for ctx.Err() == nil {
		n, err := d.Read(buf)
		if n > 0 {
			before := dec.Stats()
			samples, anomaly := dec.Feed(buf[:n])
			after := dec.Stats()

			clear(kinds)
			for _, s := range samples {
				kinds[s.Kind.String()]++
			}
			frames := int(after.Frames - before.Frames)
			r.frames.Add(uint64(frames))
			o.opts.Metrics.Decoded(d.Address(), frames, kinds)
			if anomaly {
				r.anomalies.Add(1)
				o.opts.Metrics.Anomaly(d.Address(), int(after.Discarded-before.Discarded))
				log.Debug().Str("device", d.Address()).Msg("lost frame sync, buffer discarded")
			}
			if len(samples) > 0 {
				_ = r.router.Route(samples...)
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				o.deviceFailed(r, err)
			}
			return
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-o.opts.Clock.After(o.opts.IdleSleep):
			}
		}
	}
}

// deviceFailed tears down one device after a read error. The others keep
// streaming.
func (o *Orchestrator) deviceFailed(r *run, err error) {
	address := r.device.Address()
	log.Error().Err(err).Str("device", address).Msg("device read failed, closing")
	o.opts.Metrics.ReadError(address)

	r.router.Close()
	if cerr := o.registry.Close(address); cerr != nil && !errors.Is(cerr, device.ErrNotOpen) {
		log.Warn().Err(cerr).Str("device", address).Msg("close after read failure")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if rep, ok := o.reports[address]; ok {
		rep.ReadError = err.Error()
		rep.Streaming = false
	}
}

// Stop ends streaming and closes every device. It returns only after all
// read loops have exited and every channel is closed. Calling it while Idle
// does nothing.
func (o *Orchestrator) Stop() Report {
	o.stopMu.Lock()
	defer o.stopMu.Unlock()

	o.mu.Lock()
	cancel, starting := o.cancel, o.starting
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-starting

	if o.State() != Idle {
		o.teardown()
	}
	return o.Report()
}

func (o *Orchestrator) teardown() {
	o.setState(Stopping)

	o.mu.Lock()
	cancel, group := o.cancel, o.group
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}

	o.mu.Lock()
	runs := o.runs
	o.runs = make(map[string]*run)
	o.mu.Unlock()

	for _, r := range runs {
		r.router.Close()
		o.snapshotRun(r)
	}
	if err := o.registry.CloseAll(); err != nil {
		log.Warn().Err(err).Msg("errors while closing devices")
	}

	o.mu.Lock()
	for _, rep := range o.reports {
		rep.Streaming = false
	}
	o.cancel = nil
	o.mu.Unlock()

	o.setState(Idle)
}

// snapshotRun copies a finished run's counters into its report entry.
func (o *Orchestrator) snapshotRun(r *run) {
	stats := r.router.Stats()
	o.mu.Lock()
	defer o.mu.Unlock()
	if rep, ok := o.reports[r.device.Address()]; ok {
		rep.Router = &stats
		rep.Frames = r.frames.Load()
		rep.Anomalies = r.anomalies.Load()
	}
}

// Report returns a snapshot of the current or last run.
func (o *Orchestrator) Report() Report {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := Report{
		State:   o.State().String(),
		Devices: make([]DeviceReport, 0, len(o.order)),
	}
	for _, a := range o.order {
		rep := *o.reports[a]
		if r, ok := o.runs[a]; ok {
			stats := r.router.Stats()
			rep.Router = &stats
			rep.Frames = r.frames.Load()
			rep.Anomalies = r.anomalies.Load()
		}
		out.Devices = append(out.Devices, rep)
	}
	return out
}

func dedupe(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
