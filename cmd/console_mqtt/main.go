package main

import (
	"flag"

	"github.com/relabs-tech/imu_streamer/internal/app"
	"github.com/relabs-tech/imu_streamer/internal/config"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "./imu_streamer.conf", "path to configuration file")
	flag.Parse()

	log.Info().Msg("starting imu-streamer console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
