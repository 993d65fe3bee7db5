package events

import (
	"log/slog"
	"sync"
	"time"

	v1 "nidentity/shared/contracts/events/v1"

	"nidentity/cmd/internal/gotrue"
)

// Hub fans auth changes out to subscribers.
// Publish never blocks: a full client queue drops the envelope.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	last    *v1.Envelope
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		clients: make(map[string]*Client),
	}
}

// Publish records u as the current state and broadcasts it.
// Its signature matches session.AuthChangeFunc.
func (h *Hub) Publish(u *gotrue.User) {
	env, err := NewEnvelope(v1.TypeAuthChange, AuthChangePayload(u), h.now())
	if err != nil {
		h.log.Error("events.publish.fail", "err", err)
		return
	}

	h.mu.Lock()
	h.last = &env
	h.mu.Unlock()

	h.Broadcast(env)
}

// Broadcast offers env to every client.
func (h *Hub) Broadcast(env v1.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for _, c := range h.clients {
		if !c.offer(env) {
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn("events.broadcast.drop", "type", env.Type, "dropped", dropped)
	}
}

// Register adds c and replays the latest auth state to it.
func (h *Hub) Register(c *Client) {
	if c == nil || c.ID == "" {
		return
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	last := h.last
	h.mu.Unlock()

	if last != nil {
		c.offer(*last)
	}
	h.log.Info("events.client.join", "conn_id", c.ID)
}

// Unregister removes the client and shuts it down.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if c != nil {
		c.Close()
		h.log.Info("events.client.leave", "conn_id", id)
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
