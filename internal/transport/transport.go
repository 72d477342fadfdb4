// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport is the serial side of the streamer: listing device
// addresses and opening byte ports to them.
package transport

import (
	"fmt"
	"io"
	"time"
)

// Port is an open connection to one device.
//
// Read must return (0, nil) when no data arrived within the read timeout so
// callers can observe cancellation.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Transport lists and opens device addresses.
type Transport interface {
	ListAddresses() ([]string, error)
	Open(address string, baud int) (Port, error)
}

// Driver names for the serial backends.
const (
	DriverBugst   = "bugst"
	DriverJacobsa = "jacobsa"
)

// New returns the serial transport for a driver name. readTimeout is only
// used by backends that fix the timeout when the port is opened.
func New(driver string, readTimeout time.Duration) (Transport, error) {
	switch driver {
	case "", DriverBugst:
		return NewBugst(), nil
	case DriverJacobsa:
		return NewJacobsa(readTimeout), nil
	default:
		return nil, fmt.Errorf("transport: unknown driver %q", driver)
	}
}
