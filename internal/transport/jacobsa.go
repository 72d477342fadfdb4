// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// ErrFixedTimeout is returned when a jacobsa port is asked for a read timeout
// other than the one it was opened with.
var ErrFixedTimeout = errors.New("read timeout is fixed when the port is opened")

// Jacobsa opens ports with github.com/jacobsa/go-serial. The read timeout is
// part of the open options and rounds to 100ms steps.
type Jacobsa struct {
	readTimeout time.Duration
	open        func(opts serial.OpenOptions) (io.ReadWriteCloser, error)
}

func NewJacobsa(readTimeout time.Duration) *Jacobsa {
	return &Jacobsa{readTimeout: readTimeout, open: serial.Open}
}

func (j *Jacobsa) interCharTimeout() uint {
	ms := uint(j.readTimeout / time.Millisecond)
	ms = (ms + 99) / 100 * 100
	if ms == 0 {
		ms = 100
	}
	return ms
}

func (j *Jacobsa) Open(address string, baud int) (Port, error) {
	opts := serial.OpenOptions{
		PortName:              address,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: j.interCharTimeout(),
	}

	rwc, err := j.open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	return &jacobsaPort{rwc: rwc, timeout: time.Duration(opts.InterCharacterTimeout) * time.Millisecond}, nil
}

func (*Jacobsa) ListAddresses() ([]string, error) {
	return listPortNames()
}

type jacobsaPort struct {
	rwc     io.ReadWriteCloser
	timeout time.Duration
}

// Read maps the EOF a timed out termios read produces to (0, nil).
func (p *jacobsaPort) Read(b []byte) (int, error) {
	n, err := p.rwc.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *jacobsaPort) Write(b []byte) (int, error) {
	return p.rwc.Write(b)
}

func (p *jacobsaPort) Close() error {
	return p.rwc.Close()
}

func (p *jacobsaPort) SetReadTimeout(t time.Duration) error {
	if t > p.timeout {
		return fmt.Errorf("%w: want %s, have %s", ErrFixedTimeout, t, p.timeout)
	}
	return nil
}
