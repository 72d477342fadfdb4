package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/relabs-tech/imu_streamer/internal/config"
	"github.com/relabs-tech/imu_streamer/internal/imu"
	"github.com/relabs-tech/imu_streamer/internal/logging"
	"github.com/relabs-tech/imu_streamer/internal/publish"
	"github.com/rs/zerolog/log"
)

// RunConsoleMQTT prints every stream announcement and sample published
// under TOPIC_PREFIX until Ctrl+C.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if err := logging.Setup(cfg.LogLevel, ""); err != nil {
		return err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console-" + uuid.NewString()[:8])

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Info().Str("broker", cfg.MQTTBroker).Msg("console: connected to MQTT broker")

	filter := cfg.TopicPrefix + "/+/+"
	token := client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		line, err := consoleLine(cfg.TopicPrefix, msg.Topic(), msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("console: bad payload")
			return
		}
		if line != "" {
			fmt.Println(line)
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return err
	}
	log.Info().Str("topic", filter).Msg("console: subscribed")

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("console: shutting down")
	return nil
}

// consoleLine renders one message from <prefix>/<device>/<leaf>. It returns
// an empty line for topics it does not print.
func consoleLine(prefix, topic string, payload []byte) (string, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", nil
	}
	device, leaf, ok := strings.Cut(rest, "/")
	if !ok {
		return "", nil
	}

	switch leaf {
	case "info":
		if len(payload) == 0 {
			return fmt.Sprintf("[%s] stream closed", device), nil
		}
		var info publish.StreamInfo
		if err := json.Unmarshal(payload, &info); err != nil {
			return "", fmt.Errorf("stream info: %w", err)
		}
		return fmt.Sprintf("[%s] stream %s/%s channels=%d format=%s source=%s",
			device, info.Name, info.Type, info.ChannelCount, info.ChannelFormat, info.SourceID), nil
	case "samples":
		var v []float64
		if err := json.Unmarshal(payload, &v); err != nil {
			return "", fmt.Errorf("sample: %w", err)
		}
		s, err := imu.FromVector(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[%s] %-5s x=%9.3f y=%9.3f z=%9.3f %s",
			device, s.Kind, s.X, s.Y, s.Z, s.Kind.Unit()), nil
	default:
		return "", nil
	}
}
