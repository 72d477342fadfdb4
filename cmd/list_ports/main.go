// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"os"

	"github.com/relabs-tech/imu_streamer/internal/app"
	"github.com/rs/zerolog/log"
)

func main() {
	driver := flag.String("driver", "bugst", "serial driver (bugst, jacobsa, sim)")
	flag.Parse()

	if err := app.RunListPorts(os.Stdout, *driver); err != nil {
		log.Fatal().Err(err).Msg("failed to list ports")
	}
}
