// README: Connection hub: live websocket clients keyed by connection handle.
package realtime

import (
	"log/slog"
	"sync"

	"fretlink/internal/metrics"
	"fretlink/internal/types"
)

// Peer is the authenticated identity behind one connection.
type Peer struct {
	ID     types.ConnID
	UserID types.ID
	Role   types.Role
}

// Hub owns the connection map. Sends never block: a client whose queue is
// full is dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[types.ConnID]*Client
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[types.ConnID]*Client),
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.LiveConnections.Inc()
	h.log.Info("ws client connected", "conn_id", c.ID, "user_id", c.UserID, "role", c.Role, "clients", n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.LiveConnections.Dec()
		h.log.Info("ws client disconnected", "conn_id", c.ID, "user_id", c.UserID, "clients", n)
	}
}

// Send queues frame for one connection and reports whether it was accepted.
func (h *Hub) Send(id types.ConnID, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	select {
	case c.send <- frame:
		h.mu.RUnlock()
		return true
	default:
	}
	h.mu.RUnlock()
	h.log.Warn("ws client send buffer full, dropping", "conn_id", id, "user_id", c.UserID)
	h.unregister(c)
	return false
}

// Broadcast queues frame on every connection except one and returns how many
// accepted it.
func (h *Hub) Broadcast(frame []byte, except types.ConnID) int {
	var slow []*Client
	n := 0
	h.mu.RLock()
	for id, c := range h.clients {
		if id == except {
			continue
		}
		select {
		case c.send <- frame:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("ws client send buffer full, dropping", "conn_id", c.ID, "user_id", c.UserID)
		h.unregister(c)
	}
	return n
}

// ConnsOf returns every live connection opened by userID.
func (h *Hub) ConnsOf(userID types.ID) []types.ConnID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []types.ConnID
	for id, c := range h.clients {
		if c.UserID == userID {
			out = append(out, id)
		}
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connection; read pumps then run their disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}
