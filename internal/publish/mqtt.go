// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const connectTimeout = 5 * time.Second

// MQTT publishes every channel as a topic pair under a prefix:
//
//	<prefix>/<address>/info     retained StreamInfo JSON, cleared on close
//	<prefix>/<address>/samples  one JSON array per vector, QoS 0
type MQTT struct {
	client mqtt.Client
	prefix string
}

// ConnectMQTT connects to broker. A random suffix keeps client IDs unique
// when several streamers share a broker.
func ConnectMQTT(broker, clientID, prefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, errors.New("failed to connect to MQTT broker: connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	log.Info().Str("broker", broker).Msg("connected to MQTT")

	return NewMQTT(client, prefix), nil
}

func NewMQTT(client mqtt.Client, prefix string) *MQTT {
	return &MQTT{client: client, prefix: prefix}
}

func (m *MQTT) topic(address, leaf string) string {
	return m.prefix + "/" + TopicSegment(address) + "/" + leaf
}

func (m *MQTT) CreateChannel(info StreamInfo) (Channel, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal stream info: %w", err)
	}

	infoTopic := m.topic(info.SourceID, "info")
	token := m.client.Publish(infoTopic, 1, true, payload)
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("publish %s: timeout", infoTopic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publish %s: %w", infoTopic, err)
	}

	return &mqttChannel{
		client:       m.client,
		info:         info,
		infoTopic:    infoTopic,
		samplesTopic: m.topic(info.SourceID, "samples"),
	}, nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

type mqttChannel struct {
	client       mqtt.Client
	info         StreamInfo
	infoTopic    string
	samplesTopic string
	closed       atomic.Bool
}

func (c *mqttChannel) Info() StreamInfo {
	return c.info
}

func (c *mqttChannel) Push(ctx context.Context, v []float64) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	token := c.client.Publish(c.samplesTopic, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", c.samplesTopic, ctx.Err())
	}
}

func (c *mqttChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	token := c.client.Publish(c.infoTopic, 1, true, []byte{})
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("clear %s: timeout", c.infoTopic)
	}
	return token.Error()
}
