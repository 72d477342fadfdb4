// Package transporttest provides in-memory transport ports for tests.
package transporttest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relabs-tech/imu_streamer/internal/transport"
)

var ErrPortClosed = errors.New("port closed")

// MockPort is an in-memory transport.Port. Data queued with Feed is returned
// by Read one chunk at a time; an empty queue behaves like a read timeout.
type MockPort struct {
	WriteFunc  func(p []byte) (int, error)
	ReadDelay  time.Duration
	readErr    error
	closeErr   error
	chunks     [][]byte
	written    [][]byte
	timeout    time.Duration
	closeCalls int
	closed     bool
	mu         sync.Mutex
}

func NewMockPort() *MockPort {
	return &MockPort{ReadDelay: time.Millisecond}
}

// Feed queues bytes for Read.
func (m *MockPort) Feed(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, append([]byte(nil), p...))
}

// FailReads makes every following Read return err.
func (m *MockPort) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockPort) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if len(m.chunks) > 0 {
		n := copy(p, m.chunks[0])
		if n < len(m.chunks[0]) {
			m.chunks[0] = m.chunks[0][n:]
		} else {
			m.chunks = m.chunks[1:]
		}
		m.mu.Unlock()
		return n, nil
	}
	delay := m.ReadDelay
	m.mu.Unlock()

	time.Sleep(delay)
	return 0, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	fn := m.WriteFunc
	m.mu.Unlock()

	if fn != nil {
		n, err := fn(p)
		if err != nil {
			return n, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, append([]byte(nil), p...))
	return len(p), nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCalls++
	return m.closeErr
}

func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = t
	return nil
}

// Written returns every successful write as a string.
func (m *MockPort) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

func (m *MockPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockPort) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *MockPort) ReadTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

// MockTransport hands out registered MockPorts by address.
type MockTransport struct {
	ports    map[string]*MockPort
	failures map[string]error
	opens    map[string]int
	bauds    map[string]int
	mu       sync.Mutex
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		ports:    make(map[string]*MockPort),
		failures: make(map[string]error),
		opens:    make(map[string]int),
		bauds:    make(map[string]int),
	}
}

// Add registers a port for address and returns it.
func (t *MockTransport) Add(address string) *MockPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := NewMockPort()
	t.ports[address] = p
	return p
}

// Fail makes opening address return err.
func (t *MockTransport) Fail(address string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[address] = err
}

func (t *MockTransport) Port(address string) *MockPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ports[address]
}

func (t *MockTransport) Opens(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[address]
}

func (t *MockTransport) Baud(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bauds[address]
}

func (t *MockTransport) ListAddresses() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ports))
	for a := range t.ports {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func (t *MockTransport) Open(address string, baud int) (transport.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens[address]++
	t.bauds[address] = baud
	if err := t.failures[address]; err != nil {
		return nil, err
	}
	p, ok := t.ports[address]
	if !ok {
		return nil, fmt.Errorf("no such port: %s", address)
	}
	return p, nil
}
