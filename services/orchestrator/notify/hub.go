// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
)

// errSlowClient reports that at least one subscriber missed the event.
var errSlowClient = errors.New("client send buffer full")

// SnapshotFunc returns the initial state sent to a client when it
// subscribes to topic. ok=false sends nothing.
type SnapshotFunc func(ctx context.Context, topic string) (payload map[string]any, ok bool)

// ClientMessage is what subscribers send over the socket.
//
//	{"action":"subscribe","topic":"/topic/metrics"}
//	{"action":"unsubscribe","topic":"/topic/metrics"}
//	{"action":"ping","timestamp":"..."}
//	{"action":"refresh","topic":"/topic/executions"}
type ClientMessage struct {
	Action    string `json:"action"`
	Topic     string `json:"topic,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Hub is a WebSocket broadcast sink.
//
// # Description
//
// Each connection gets a buffered outbound queue drained by its own writer
// goroutine, so Send never blocks on a slow client; a full queue drops the
// message for that client only. Connections start subscribed to the topics
// named by repeated "topic" query parameters, or to all topics when none are
// given.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*wsClient
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   *slog.Logger
}

var _ Sink = (*Hub)(nil)

type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan any
	mu     sync.RWMutex
	topics map[string]bool
	closed chan struct{}
	once   sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// SetSnapshot installs the subscribe-time snapshot provider.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send enqueues ev for every client subscribed to ev.Topic. It returns an
// error if at least one client's queue was full.
func (h *Hub) Send(ctx context.Context, ev Event) error {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribed(ev.Topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var dropped bool
	for _, c := range targets {
		if !c.enqueue(ev) {
			dropped = true
		}
	}
	if dropped {
		return errSlowClient
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}

	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = AllTopics()
	}
	c := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan any, clientSendBuffer),
		topics: make(map[string]bool, len(topics)),
		closed: make(chan struct{}),
	}
	for _, t := range topics {
		c.topics[t] = true
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("Websocket client connected", "client", c.id, "topics", topics)

	c.enqueue(map[string]any{
		"type":      "WELCOME",
		"clientId":  c.id,
		"message":   "Connected to Aleutian Bench",
		"timestamp": time.Now(),
	})
	for _, t := range topics {
		h.sendSnapshot(r.Context(), c, t)
	}

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Info("Websocket client disconnected", "client", c.id)
}

func (h *Hub) sendSnapshot(ctx context.Context, c *wsClient, topic string) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return
	}
	payload, ok := fn(ctx, topic)
	if !ok {
		return
	}
	c.enqueue(map[string]any{
		"type":      "SUBSCRIPTION",
		"topic":     topic,
		"timestamp": time.Now(),
		"payload":   payload,
	})
}

func (h *Hub) readLoop(ctx context.Context, c *wsClient) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "subscribe":
			c.setTopic(msg.Topic, true)
			h.sendSnapshot(ctx, c, msg.Topic)
		case "unsubscribe":
			c.setTopic(msg.Topic, false)
		case "refresh":
			h.sendSnapshot(ctx, c, msg.Topic)
		case "ping":
			c.enqueue(map[string]any{
				"type":            "PONG",
				"timestamp":       time.Now(),
				"clientTimestamp": msg.Timestamp,
			})
		default:
			c.enqueue(map[string]any{"type": "ERROR", "error": "unknown action: " + msg.Action})
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Warn("Failed to write WebSocket JSON", "client", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *wsClient) setTopic(topic string, on bool) {
	if topic == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
}

func (c *wsClient) enqueue(msg any) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
