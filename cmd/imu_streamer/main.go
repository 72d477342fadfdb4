// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"

	"github.com/relabs-tech/imu_streamer/internal/app"
	"github.com/relabs-tech/imu_streamer/internal/config"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "./imu_streamer.conf", "path to configuration file")
	ports := flag.String("ports", "", "comma-separated serial ports, overrides SERIAL_PORTS")
	driver := flag.String("driver", "", "serial driver (bugst, jacobsa, sim), overrides SERIAL_DRIVER")
	flag.Parse()

	log.Info().Msg("starting imu-streamer (WitMotion serial → stream)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	err := app.RunStreamer(app.Overrides{
		Ports:  config.ParsePorts(*ports),
		Driver: *driver,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
