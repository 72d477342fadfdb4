package activation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	err     error
	address string
	writes  []string
	failOn  int // 1-based write number that fails, 0 never
	short   bool
}

func (d *fakeDevice) Address() string { return d.address }

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.failOn > 0 && len(d.writes)+1 == d.failOn {
		return 0, d.err
	}
	d.writes = append(d.writes, string(p))
	if d.short {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func writers(ds ...*fakeDevice) []Writer {
	out := make([]Writer, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}

// runActivate runs Activate on a fake clock and advances past the settle
// interval once the handshake is waiting on it.
func runActivate(t *testing.T, devices []Writer) Result {
	t.Helper()
	clock := clockwork.NewFakeClock()
	done := make(chan Result, 1)
	go func() { done <- Activate(context.Background(), clock, devices) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	blocked := make(chan struct{})
	go func() {
		if clock.BlockUntilContext(ctx, 1) == nil {
			close(blocked)
		}
	}()

	select {
	case res := <-done:
		return res
	case <-blocked:
		clock.Advance(SettleInterval)
	}

	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("activation did not finish")
		return Result{}
	}
}

func TestActivate_SendsBothStepsToEveryDevice(t *testing.T) {
	t.Parallel()

	a := &fakeDevice{address: "COM1"}
	b := &fakeDevice{address: "COM2"}

	res := runActivate(t, writers(a, b))

	require.True(t, res.OK())
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, []string{"AT+ROLE=M", "AT+ROLE=S"}, a.writes)
	assert.Equal(t, []string{"AT+ROLE=M", "AT+ROLE=S"}, b.writes)
	assert.Equal(t, map[string]int{"COM1": 2, "COM2": 2}, res.Sent)
}

func TestActivate_WaitsSettleInterval(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	d := &fakeDevice{address: "COM1"}
	done := make(chan Result, 1)
	go func() { done <- Activate(context.Background(), clock, writers(d)) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(SettleInterval - time.Millisecond)
	select {
	case <-done:
		t.Fatal("second step sent before the settle interval")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	select {
	case res := <-done:
		require.True(t, res.OK())
	case <-time.After(2 * time.Second):
		t.Fatal("activation did not finish")
	}
}

func TestActivate_FirstWriteFailureAbortsBroadcast(t *testing.T) {
	t.Parallel()

	boom := errors.New("device unplugged")
	d1 := &fakeDevice{address: "COM1", failOn: 1, err: boom}
	d2 := &fakeDevice{address: "COM2"}
	d3 := &fakeDevice{address: "COM3"}

	res := runActivate(t, writers(d1, d2, d3))

	require.False(t, res.OK())
	assert.Empty(t, d2.writes, "devices after the failure get nothing")
	assert.Empty(t, d3.writes)
	assert.Equal(t, 0, res.Completed)

	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, 1, stepErr.Step)
	assert.Equal(t, "AT+ROLE=M", stepErr.Command)
	assert.Equal(t, "COM1", stepErr.Address)
	require.ErrorIs(t, res.Err, ErrWriteFailed)
	require.ErrorIs(t, res.Err, boom)
}

func TestActivate_SecondStepFailureLeavesHalfConfigured(t *testing.T) {
	t.Parallel()

	d1 := &fakeDevice{address: "COM1"}
	d2 := &fakeDevice{address: "COM2", failOn: 2, err: errors.New("timeout")}

	res := runActivate(t, writers(d1, d2))

	require.False(t, res.OK())
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, res.Sent["COM1"])
	assert.Equal(t, 1, res.Sent["COM2"])

	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, "COM2", stepErr.Address)
	assert.Contains(t, res.Err.Error(), "AT+ROLE=S")
}

func TestActivate_ShortWriteIsFailure(t *testing.T) {
	t.Parallel()

	d := &fakeDevice{address: "COM1", short: true}

	res := runActivate(t, writers(d))

	require.ErrorIs(t, res.Err, ErrWriteFailed)
}

func TestActivate_ContextCancelledDuringSettle(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDevice{address: "COM1"}
	done := make(chan Result, 1)
	go func() { done <- Activate(ctx, clock, writers(d)) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case res := <-done:
		require.ErrorIs(t, res.Err, context.Canceled)
		var stepErr *StepError
		require.ErrorAs(t, res.Err, &stepErr)
		assert.Equal(t, 2, stepErr.Step)
		assert.Empty(t, stepErr.Address)
		assert.Equal(t, []string{"AT+ROLE=M"}, d.writes)
	case <-time.After(2 * time.Second):
		t.Fatal("activation ignored cancellation")
	}
}

func TestActivate_NoDevices(t *testing.T) {
	t.Parallel()

	res := Activate(context.Background(), clockwork.NewFakeClock(), nil)

	assert.True(t, res.OK())
	assert.Equal(t, 0, res.Completed)
}

func TestCommands(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"AT+ROLE=M", "AT+ROLE=S"}, Commands())
}
