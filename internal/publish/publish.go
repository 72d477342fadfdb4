// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package publish is the outbound side of the streamer: named multi-channel
// numeric streams that downstream tools subscribe to.
package publish

import (
	"context"
	"errors"
	"strings"
)

var ErrChannelClosed = errors.New("publish: channel closed")

// StreamInfo describes one outbound stream.
type StreamInfo struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	ChannelCount  int    `json:"channel_count"`
	ChannelFormat string `json:"channel_format"`
	SourceID      string `json:"source_id"`
}

// FormatDouble64 is the only channel format this package produces.
const FormatDouble64 = "double64"

// Channel accepts vectors in push order until closed.
type Channel interface {
	Info() StreamInfo
	// Push sends one vector. Implementations return once ctx is done even
	// if the vector could not be delivered.
	Push(ctx context.Context, v []float64) error
	Close() error
}

// Publisher creates channels.
type Publisher interface {
	CreateChannel(info StreamInfo) (Channel, error)
}

// TopicSegment turns a device address such as /dev/rfcomm0 into a string
// usable as one MQTT topic level or URL query value.
func TopicSegment(address string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '+', '#', ' ', ':':
			return '_'
		}
		return r
	}, address)
	s = strings.TrimLeft(s, "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
