package relay

import (
	"log/slog"
	"sync"
)

// Client is a connected viewer that can receive messages.
type Client interface {
	ID() ViewerID
	// Send queues msg without blocking and reports whether it was queued.
	Send(msg Message) bool
}

// Hub tracks connected viewers for broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[ViewerID]Client
	log     *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{clients: make(map[ViewerID]Client), log: log}
}

// Register adds c.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
}

// Unregister removes the viewer. Unknown ids are ignored.
func (h *Hub) Unregister(id ViewerID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(event string, data any) int {
	h.mu.RLock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.Send(Message{Event: event, Data: data}) {
			sent++
		} else {
			h.log.Warn("broadcast not delivered",
				slog.String("viewer_id", string(c.ID())),
				slog.String("event", event))
		}
	}
	return sent
}
