// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/relabs-tech/imu_streamer/internal/config"
	"github.com/relabs-tech/imu_streamer/internal/simulator"
	"github.com/relabs-tech/imu_streamer/internal/transport"
)

// RunListPorts prints the serial ports a driver can see. The bugst driver
// adds USB identification.
func RunListPorts(w io.Writer, driver string) error {
	var tr transport.Transport
	if driver == config.DriverSim {
		tr = simulator.New(nil, simulator.Options{})
	} else {
		var err error
		if tr, err = transport.New(driver, 0); err != nil {
			return err
		}
	}

	if b, ok := tr.(*transport.Bugst); ok {
		infos, err := b.Details()
		if err == nil && len(infos) > 0 {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PORT\tUSB\tVID:PID\tSERIAL")
			for _, p := range infos {
				id := ""
				if p.IsUSB {
					id = p.VID + ":" + p.PID
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", p.Name, p.IsUSB, id, p.SerialNumber)
			}
			return tw.Flush()
		}
	}

	addresses, err := tr.ListAddresses()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(addresses) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, a := range addresses {
		fmt.Fprintln(w, a)
	}
	return nil
}
