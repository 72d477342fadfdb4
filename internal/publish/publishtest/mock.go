// Package publishtest provides an in-memory Publisher for tests.
package publishtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/relabs-tech/imu_streamer/internal/publish"
)

// MockChannel records every pushed vector.
type MockChannel struct {
	// PushFunc, when set, runs before the vector is recorded. Returning an
	// error skips recording.
	PushFunc   func(ctx context.Context, v []float64) error
	info       publish.StreamInfo
	pushed     [][]float64
	closeCalls int
	closed     bool
	mu         sync.Mutex
}

func (c *MockChannel) Info() publish.StreamInfo {
	return c.info
}

func (c *MockChannel) Push(ctx context.Context, v []float64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return publish.ErrChannelClosed
	}
	fn := c.PushFunc
	c.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, v); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, append([]float64(nil), v...))
	return nil
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCalls++
	return nil
}

// Pushed returns a copy of the recorded vectors.
func (c *MockChannel) Pushed() [][]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]float64(nil), c.pushed...)
}

func (c *MockChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockChannel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// SetPushFunc replaces PushFunc while the channel may be in use.
func (c *MockChannel) SetPushFunc(fn func(ctx context.Context, v []float64) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PushFunc = fn
}

// NewChannel returns a standalone channel.
func NewChannel(info publish.StreamInfo) *MockChannel {
	return &MockChannel{info: info}
}

// MockPublisher creates MockChannels and remembers them by source.
type MockPublisher struct {
	failures map[string]error
	channels map[string]*MockChannel
	created  []string
	mu       sync.Mutex
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		failures: make(map[string]error),
		channels: make(map[string]*MockChannel),
	}
}

// Fail makes CreateChannel for source return err.
func (p *MockPublisher) Fail(source string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[source] = err
}

func (p *MockPublisher) CreateChannel(info publish.StreamInfo) (publish.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[info.SourceID]; err != nil {
		return nil, err
	}
	if c, ok := p.channels[info.SourceID]; ok && !c.IsClosed() {
		return nil, fmt.Errorf("channel %s already exists", info.SourceID)
	}
	c := NewChannel(info)
	p.channels[info.SourceID] = c
	p.created = append(p.created, info.SourceID)
	return c, nil
}

// Channel returns the latest channel created for source.
func (p *MockPublisher) Channel(source string) *MockChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[source]
}

// Created lists sources in creation order.
func (p *MockPublisher) Created() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.created...)
}
