package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bugst "go.bug.st/serial"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tr, err := New("", time.Second)
	require.NoError(t, err)
	assert.IsType(t, &Bugst{}, tr)

	tr, err = New(DriverJacobsa, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &Jacobsa{}, tr)

	_, err = New("carrier-pigeon", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestBugstOpen_PassesBaudRate(t *testing.T) {
	t.Parallel()

	var gotMode *bugst.Mode
	var gotPath string
	b := &Bugst{open: func(address string, mode *bugst.Mode) (bugst.Port, error) {
		gotPath, gotMode = address, mode
		return nil, errors.New("no such device")
	}}

	_, err := b.Open("/dev/rfcomm0", 115200)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/rfcomm0")
	assert.Equal(t, "/dev/rfcomm0", gotPath)
	require.NotNil(t, gotMode)
	assert.Equal(t, 115200, gotMode.BaudRate)
}

type fakeRWC struct {
	io.Reader
	bytes.Buffer
	closed bool
}

func (f *fakeRWC) Read(p []byte) (int, error) { return f.Reader.Read(p) }
func (f *fakeRWC) Close() error               { f.closed = true; return nil }

func TestJacobsaOpen_Options(t *testing.T) {
	t.Parallel()

	var got serial.OpenOptions
	rwc := &fakeRWC{Reader: bytes.NewReader(nil)}
	j := &Jacobsa{readTimeout: 150 * time.Millisecond, open: func(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
		got = opts
		return rwc, nil
	}}

	port, err := j.Open("COM7", 115200)
	require.NoError(t, err)

	assert.Equal(t, "COM7", got.PortName)
	assert.Equal(t, uint(115200), got.BaudRate)
	assert.Equal(t, uint(8), got.DataBits)
	assert.Equal(t, uint(1), got.StopBits)
	assert.Equal(t, uint(0), got.MinimumReadSize)
	assert.Equal(t, uint(200), got.InterCharacterTimeout)

	// EOF on an empty read is a timeout, not a disconnect
	n, err := port.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	require.NoError(t, err)

	require.NoError(t, port.SetReadTimeout(150*time.Millisecond))
	require.ErrorIs(t, port.SetReadTimeout(time.Second), ErrFixedTimeout)

	_, err = port.Write([]byte("AT"))
	require.NoError(t, err)
	assert.Equal(t, "AT", rwc.String())

	require.NoError(t, port.Close())
	assert.True(t, rwc.closed)
}

func TestJacobsaInterCharTimeoutMinimum(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint(100), (&Jacobsa{}).interCharTimeout())
	assert.Equal(t, uint(100), (&Jacobsa{readTimeout: 100 * time.Millisecond}).interCharTimeout())
}

func TestJacobsaOpen_Error(t *testing.T) {
	t.Parallel()

	j := &Jacobsa{open: func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, errors.New("permission denied")
	}}

	_, err := j.Open("/dev/ttyUSB0", 115200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
