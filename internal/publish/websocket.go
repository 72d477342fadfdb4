// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/relabs-tech/imu_streamer/internal/syncutil"
	"github.com/rs/zerolog/log"
)

const (
	writeWait        = 2 * time.Second
	defaultSendQueue = 64
)

// WebSocketHub serves every channel at /ws?channel=<address>. Each subscriber
// gets its own bounded queue; a slow subscriber loses vectors instead of
// slowing the publisher down.
type WebSocketHub struct {
	upgrader  websocket.Upgrader
	channels  map[string]*wsChannel
	sendQueue int
	mu        syncutil.RWMutex
}

func NewWebSocketHub(sendQueue int) *WebSocketHub {
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		channels:  make(map[string]*wsChannel),
		sendQueue: sendQueue,
	}
}

func (h *WebSocketHub) CreateChannel(info StreamInfo) (Channel, error) {
	key := TopicSegment(info.SourceID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[key]; ok {
		return nil, fmt.Errorf("websocket channel %q already exists", key)
	}
	c := &wsChannel{
		hub:  h,
		key:  key,
		info: info,
		subs: make(map[string]*wsSubscriber),
	}
	h.channels[key] = c
	return c, nil
}

// Channels lists the open channels by source.
func (h *WebSocketHub) Channels() []StreamInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StreamInfo, 0, len(h.channels))
	for _, c := range h.channels {
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (h *WebSocketHub) lookup(key string) *wsChannel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[key]
}

func (h *WebSocketHub) remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, key)
}

// ServeHTTP upgrades the request and subscribes it to one channel.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := TopicSegment(r.URL.Query().Get("channel"))
	c := h.lookup(key)
	if c == nil {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &wsSubscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendQueue),
		done: make(chan struct{}),
	}
	if !c.subscribe(s) {
		_ = conn.Close()
		return
	}
	log.Debug().Str("channel", key).Str("subscriber", s.id).Msg("websocket subscriber connected")

	go s.writeLoop()
	go func() {
		// Client messages are ignored; a read error means the peer left.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				c.unsubscribe(s.id)
				return
			}
		}
	}()
}

type wsChannel struct {
	hub    *WebSocketHub
	subs   map[string]*wsSubscriber
	key    string
	info   StreamInfo
	mu     sync.Mutex
	closed bool
}

func (c *wsChannel) Info() StreamInfo {
	return c.info
}

func (c *wsChannel) subscribe(s *wsSubscriber) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.subs[s.id] = s
	return true
}

func (c *wsChannel) unsubscribe(id string) {
	c.mu.Lock()
	s, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		s.close()
	}
}

// Subscribers returns the number of connected subscribers.
func (c *wsChannel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *wsChannel) Push(_ context.Context, v []float64) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	for _, s := range c.subs {
		select {
		case s.send <- payload:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]*wsSubscriber)
	c.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	c.hub.remove(c.key)
	return nil
}

type wsSubscriber struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	id      string
	dropped atomic.Uint64
	once    sync.Once
}

func (s *wsSubscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *wsSubscriber) writeLoop() {
	defer func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("subscriber", s.id).Msg("websocket write failed")
				return
			}
		}
	}
}
