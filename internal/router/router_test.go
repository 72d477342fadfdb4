package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/imu_streamer/internal/imu"
	"github.com/relabs-tech/imu_streamer/internal/metrics"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/relabs-tech/imu_streamer/internal/publish/publishtest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newChannel() *publishtest.MockChannel {
	return publishtest.NewChannel(publish.StreamInfo{SourceID: "COM1", ChannelCount: 4})
}

func TestRoute_PreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newChannel()
	r := New("COM1", ch, Options{})

	a := imu.Sample{Kind: imu.Acceleration, X: 1}
	b := imu.Sample{Kind: imu.AngularVelocity, X: 2}
	c := imu.Sample{Kind: imu.Orientation, X: 3}
	require.NoError(t, r.Route(a, b))
	require.NoError(t, r.Route(c))

	require.Eventually(t, func() bool { return len(ch.Pushed()) == 3 }, time.Second, time.Millisecond)
	r.Close()

	assert.Equal(t, [][]float64{a.Vector(), b.Vector(), c.Vector()}, ch.Pushed())
	assert.Equal(t, Stats{Enqueued: 3, Published: 3}, r.Stats())
}

func TestRoute_SlowPublisherDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newChannel()
	release := make(chan struct{})
	ch.SetPushFunc(func(ctx context.Context, _ []float64) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	m := metrics.New()
	r := New("COM1", ch, Options{QueueSize: 4, PushTimeout: time.Second, Metrics: m})

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Route(imu.Sample{X: float64(i)}))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Route must not wait for the publisher")

	stats := r.Stats()
	assert.Equal(t, uint64(100), stats.Enqueued+stats.Dropped)
	assert.GreaterOrEqual(t, stats.Dropped, uint64(100-5))
	assert.InDelta(t, float64(stats.Dropped),
		testutil.ToFloat64(m.SamplesDropped.WithLabelValues("COM1", metrics.ReasonQueueFull)), 0)

	close(release)
	r.Close()
}

func TestRoute_PublishErrorsAreCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newChannel()
	ch.SetPushFunc(func(context.Context, []float64) error { return errors.New("broker gone") })
	r := New("COM1", ch, Options{})

	require.NoError(t, r.Route(imu.Sample{}, imu.Sample{}))
	require.Eventually(t, func() bool { return r.Stats().Failed == 2 }, time.Second, time.Millisecond)

	r.Close()
	assert.Empty(t, ch.Pushed())
}

func TestRoute_PushTimeoutBoundsEachPush(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newChannel()
	ch.SetPushFunc(func(ctx context.Context, _ []float64) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := New("COM1", ch, Options{PushTimeout: 5 * time.Millisecond})

	require.NoError(t, r.Route(imu.Sample{}))
	require.Eventually(t, func() bool { return r.Stats().Failed == 1 }, time.Second, time.Millisecond)
	r.Close()
}

func TestClose_DrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newChannel()
	gate := make(chan struct{})
	ch.SetPushFunc(func(ctx context.Context, _ []float64) error {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	r := New("COM1", ch, Options{QueueSize: 16, PushTimeout: time.Second})

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Route(imu.Sample{X: float64(i)}))
	}
	close(gate)
	r.Close()

	assert.Len(t, ch.Pushed(), 5)
}

func TestClose_BoundedWhenPublisherHangs(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newChannel()
	ch.SetPushFunc(func(ctx context.Context, _ []float64) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := New("COM1", ch, Options{QueueSize: 64, PushTimeout: 20 * time.Millisecond, DrainTimeout: 30 * time.Millisecond})

	for i := 0; i < 64; i++ {
		require.NoError(t, r.Route(imu.Sample{}))
	}

	start := time.Now()
	r.Close()
	assert.Less(t, time.Since(start), time.Second)

	stats := r.Stats()
	assert.Equal(t, uint64(64), stats.Failed+stats.Dropped)
}

func TestClose_Idempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := New("COM1", newChannel(), Options{})
	r.Close()
	r.Close()

	require.ErrorIs(t, r.Route(imu.Sample{}), ErrClosed)
}
