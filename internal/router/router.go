// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package router forwards one device's decoded samples to its output
// channel without letting a slow publisher stall the device's read loop.
package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/imu_streamer/internal/imu"
	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("router closed")

const (
	DefaultQueueSize    = 256
	DefaultPushTimeout  = 50 * time.Millisecond
	DefaultDrainTimeout = 500 * time.Millisecond
)

type Options struct {
	Metrics *metrics.Metrics
	// QueueSize bounds the samples waiting for the publisher. Samples that
	// arrive while it is full are dropped.
	QueueSize int
	// PushTimeout bounds a single push to the channel.
	PushTimeout time.Duration
	// DrainTimeout bounds how long Close keeps pushing queued samples.
	DrainTimeout time.Duration
}

// Stats counts samples by outcome.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"` // queue full or left over at close
	Failed    uint64 `json:"failed"`  // push returned an error
}

// Router owns a queue and one forwarding goroutine for a device.
type Router struct {
	channel   publish.Channel
	queue     chan imu.Sample
	closing   chan struct{}
	done      chan struct{}
	logger    zerolog.Logger
	address   string
	opts      Options
	enqueued  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a router for address that pushes to ch.
func New(address string, ch publish.Channel, opts Options) *Router {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	r := &Router{
		address: address,
		channel: ch,
		opts:    opts,
		queue:   make(chan imu.Sample, opts.QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger: log.With().Str("device", address).Logger().
			Sample(&zerolog.BurstSampler{Burst: 1, Period: 5 * time.Second}),
	}
	go r.forward()
	return r
}

// Route queues samples in order. It never blocks: samples that do not fit
// are dropped and counted.
func (r *Router) Route(samples ...imu.Sample) error {
	if r.closed.Load() {
		return ErrClosed
	}
	for _, s := range samples {
		select {
		case r.queue <- s:
			r.enqueued.Add(1)
		default:
			r.dropped.Add(1)
			r.opts.Metrics.Dropped(r.address, metrics.ReasonQueueFull)
			r.logger.Warn().Int("queue", r.opts.QueueSize).Msg("publish queue full, dropping samples")
		}
	}
	return nil
}

func (r *Router) forward() {
	defer close(r.done)
	for {
		select {
		case s := <-r.queue:
			r.push(context.Background(), s)
		case <-r.closing:
			r.drain()
			return
		}
	}
}

func (r *Router) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.DrainTimeout)
	defer cancel()
	for {
		select {
		case s := <-r.queue:
			if ctx.Err() != nil {
				r.dropped.Add(1)
				r.opts.Metrics.Dropped(r.address, metrics.ReasonQueueFull)
				continue
			}
			r.push(ctx, s)
		default:
			return
		}
	}
}

func (r *Router) push(parent context.Context, s imu.Sample) {
	ctx, cancel := context.WithTimeout(parent, r.opts.PushTimeout)
	err := r.channel.Push(ctx, s.Vector())
	cancel()
	if err != nil {
		r.failed.Add(1)
		r.opts.Metrics.Dropped(r.address, metrics.ReasonPublishError)
		r.logger.Warn().Err(err).Msg("publish failed, dropping sample")
		return
	}
	r.published.Add(1)
	r.opts.Metrics.Published(r.address)
}

// Close stops accepting samples, pushes what is queued for at most
// DrainTimeout and waits for the forwarding goroutine to exit.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.closing)
	})
	<-r.done
}

func (r *Router) Stats() Stats {
	return Stats{
		Enqueued:  r.enqueued.Load(),
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}
