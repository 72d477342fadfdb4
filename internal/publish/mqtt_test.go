package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfo(source string) StreamInfo {
	return StreamInfo{Name: "BT", Type: "IMU", ChannelCount: 4, ChannelFormat: FormatDouble64, SourceID: source}
}

func TestTopicSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"COM3", "COM3"},
		{"/dev/rfcomm0", "dev_rfcomm0"},
		{"/dev/tty.WT901BLE68-Port", "dev_tty.WT901BLE68-Port"},
		{"a+b#c d", "a_b_c_d"},
		{"", "unnamed"},
		{"///", "unnamed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicSegment(tt.in), tt.in)
	}
}

func TestMQTTCreateChannel_PublishesRetainedInfo(t *testing.T) {
	t.Parallel()

	client := &mockMQTTClient{}
	m := NewMQTT(client, "imu/stream")

	ch, err := m.CreateChannel(testInfo("/dev/rfcomm0"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/rfcomm0", ch.Info().SourceID)

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "imu/stream/dev_rfcomm0/info", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.JSONEq(t,
		`{"name":"BT","type":"IMU","channel_count":4,"channel_format":"double64","source_id":"/dev/rfcomm0"}`,
		string(msgs[0].payload.([]byte)))
}

func TestMQTTCreateChannel_Error(t *testing.T) {
	t.Parallel()

	client := &mockMQTTClient{publishError: errors.New("not connected")}
	m := NewMQTT(client, "imu")

	_, err := m.CreateChannel(testInfo("COM3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestMQTTPush(t *testing.T) {
	t.Parallel()

	client := &mockMQTTClient{}
	ch, err := NewMQTT(client, "imu").CreateChannel(testInfo("COM3"))
	require.NoError(t, err)

	require.NoError(t, ch.Push(context.Background(), []float64{0, 1.5, -2, 8}))

	msgs := client.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "imu/COM3/samples", msgs[1].topic)
	assert.False(t, msgs[1].retained)
	assert.Equal(t, byte(0), msgs[1].qos)
	assert.Equal(t, "[0,1.5,-2,8]", string(msgs[1].payload.([]byte)))
}

func TestMQTTPush_RespectsContext(t *testing.T) {
	t.Parallel()

	client := &mockMQTTClient{}
	ch, err := NewMQTT(client, "imu").CreateChannel(testInfo("COM3"))
	require.NoError(t, err)

	client.mu.Lock()
	client.hang = true
	client.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = ch.Push(ctx, []float64{0, 0, 0, 0})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMQTTClose_ClearsInfoOnce(t *testing.T) {
	t.Parallel()

	client := &mockMQTTClient{}
	ch, err := NewMQTT(client, "imu").CreateChannel(testInfo("COM3"))
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	msgs := client.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "imu/COM3/info", msgs[1].topic)
	assert.True(t, msgs[1].retained)
	assert.Empty(t, msgs[1].payload)

	require.ErrorIs(t, ch.Push(context.Background(), []float64{0}), ErrChannelClosed)
}

func TestMQTTPublisherClose(t *testing.T) {
	t.Parallel()

	client := &mockMQTTClient{}
	NewMQTT(client, "imu").Close()

	assert.Equal(t, 1, client.disconnects)
}
