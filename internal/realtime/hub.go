// Package realtime fans events out to a user's live connections. The
// registry is instance-local; cross-instance delivery would need an
// external pub/sub backbone.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Transport is one live client connection. The production implementation
// wraps a websocket; tests use an in-memory recorder.
type Transport interface {
	WriteMessage(data []byte) error
	Close() error
}

// Frame is the wire shape of every pushed message.
type Frame struct {
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
	TS    time.Time `json:"ts"`
}

// Conn is a registered connection with its outbound queue. Writes go
// through the queue so a slow client never blocks a broadcast. The mu/closed
// pair orders enqueues against close so an eviction racing a broadcast is a
// plain miss, not a send on a closed channel.
type Conn struct {
	userID    string
	transport Transport
	mu        sync.Mutex
	closed    bool
	send      chan []byte
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub is the concurrency-safe per-user connection registry.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Conn]struct{}
	sendBuffer int
	heartbeat  time.Duration
	now        func() time.Time
}

// NewHub creates a hub. sendBuffer is the per-connection queue depth;
// heartbeat is the keepalive interval.
func NewHub(sendBuffer int, heartbeat time.Duration) *Hub {
	if sendBuffer < 1 {
		sendBuffer = 32
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		conns:      make(map[string]map[*Conn]struct{}),
		sendBuffer: sendBuffer,
		heartbeat:  heartbeat,
		now:        time.Now,
	}
}

// Register adds a connection for the user and starts its write pump.
func (h *Hub) Register(userID string, t Transport) *Conn {
	c := &Conn{
		userID:    userID,
		transport: t,
		send:      make(chan []byte, h.sendBuffer),
	}
	h.mu.Lock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	go h.writePump(c)
	slog.Info("Realtime connection registered", "user_id", userID, "connections", total)
	return c
}

// Unregister removes a connection and closes its transport. Safe to call
// more than once.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	set, ok := h.conns[c.userID]
	if ok {
		if _, live := set[c]; !live {
			ok = false
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	_ = c.transport.Close()
	slog.Info("Realtime connection removed", "user_id", c.userID)
}

func (h *Hub) writePump(c *Conn) {
	for msg := range c.send {
		if err := c.transport.WriteMessage(msg); err != nil {
			slog.Debug("Realtime write failed, evicting connection", "user_id", c.userID, "error", err)
			h.Unregister(c)
			return
		}
	}
}

// BroadcastToUser pushes a frame to every live connection of userID. A
// connection whose queue is full is evicted rather than waited on.
func (h *Hub) BroadcastToUser(userID, event string, payload any) {
	data, err := json.Marshal(Frame{Event: event, Data: payload, TS: h.now()})
	if err != nil {
		slog.Error("Failed to marshal realtime frame", "event", event, "error", err)
		return
	}
	for _, c := range h.snapshot(userID) {
		h.enqueue(c, data)
	}
}

// SendTo pushes a frame to a single connection, used for the connected and
// initial_state frames right after registration.
func (h *Hub) SendTo(c *Conn, event string, payload any) {
	data, err := json.Marshal(Frame{Event: event, Data: payload, TS: h.now()})
	if err != nil {
		slog.Error("Failed to marshal realtime frame", "event", event, "error", err)
		return
	}
	h.enqueue(c, data)
}

func (h *Hub) enqueue(c *Conn, data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()
	slog.Warn("Realtime queue full, evicting connection", "user_id", c.userID)
	h.Unregister(c)
}

func (h *Hub) snapshot(userID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.conns[userID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// ConnectionCount returns the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// RunHeartbeat sends keepalive frames to every connection until ctx is
// cancelled. Enqueue failure evicts, which is how dead clients are
// eventually cleaned up.
func (h *Hub) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			var all []*Conn
			for _, set := range h.conns {
				for c := range set {
					all = append(all, c)
				}
			}
			h.mu.RUnlock()
			data, err := json.Marshal(Frame{Event: "heartbeat", TS: h.now()})
			if err != nil {
				continue
			}
			for _, c := range all {
				h.enqueue(c, data)
			}
		}
	}
}

// Shutdown evicts every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var all []*Conn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.Unregister(c)
	}
}
