// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Bugst opens ports with go.bug.st/serial.
type Bugst struct {
	open func(address string, mode *serial.Mode) (serial.Port, error)
}

func NewBugst() *Bugst {
	return &Bugst{open: serial.Open}
}

func (b *Bugst) Open(address string, baud int) (Port, error) {
	port, err := b.open(address, &serial.Mode{
		BaudRate: baud,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	return port, nil
}

func (*Bugst) ListAddresses() ([]string, error) {
	return listPortNames()
}

// Details lists ports with USB identification where the OS provides it.
func (*Bugst) Details() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// listPortNames prefers the detailed enumerator and falls back to the plain
// port list, which also sees Bluetooth RFCOMM and virtual COM ports.
func listPortNames() ([]string, error) {
	if details, err := enumerator.GetDetailedPortsList(); err == nil && len(details) > 0 {
		names := make([]string, 0, len(details))
		for _, d := range details {
			names = append(names, d.Name)
		}
		sort.Strings(names)
		return names, nil
	} else if err != nil {
		log.Debug().Err(err).Msg("detailed port enumeration failed, using port list")
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
