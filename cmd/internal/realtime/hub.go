package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"clubhouse/cmd/internal/metrics"
)

// Hub fans events out to connected administrators.
//
// Publish never blocks: a full queue drops the event for that client, and a
// client that keeps dropping is disconnected. A user.deleted event, or a
// user.admin_toggled event that demotes, also disconnects that user's clients.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	clients map[string]*member
}

type member struct {
	client  *Client
	dropped int
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		clients: make(map[string]*member),
	}
}

// Register adds c to the fanout set.
func (h *Hub) Register(c *Client) {
	if h == nil || c == nil || c.ID == "" {
		return
	}
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		metrics.FeedClients.Inc()
	}
	h.clients[c.ID] = &member{client: c}
	h.mu.Unlock()

	h.log.Info("feed.client.join", "client_id", c.ID, "user_id", c.UserID)
}

// Unregister removes the client and signals it to stop.
// Removal happens before Close so a publisher never targets a closing client.
func (h *Hub) Unregister(id string) {
	if h == nil || id == "" {
		return
	}
	h.mu.Lock()
	m, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.FeedClients.Dec()
	m.client.Close()
	h.log.Info("feed.client.leave", "client_id", id)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish builds an event and fans it out. Unknown types and marshal
// failures are logged and dropped; callers never see an error.
func (h *Hub) Publish(eventType string, payload any) {
	if h == nil {
		return
	}
	ev, err := NewEvent(eventType, payload, h.now())
	if err != nil {
		h.log.Error("feed.publish.fail", "type", eventType, "err", err)
		return
	}
	h.Broadcast(ev)
}

// Broadcast delivers ev to every registered client without blocking.
func (h *Hub) Broadcast(ev Event) {
	var slow []string

	h.mu.Lock()
	for id, m := range h.clients {
		if m.client.closed() {
			continue
		}
		select {
		case m.client.Send <- ev:
			m.dropped = 0
		default:
			m.dropped++
			if m.dropped >= maxDroppedEvents {
				slow = append(slow, id)
			}
		}
	}
	h.mu.Unlock()

	for _, id := range slow {
		h.log.Warn("feed.client.slow", "client_id", id)
		h.Unregister(id)
	}

	if userID, ok := revokedUser(ev); ok {
		h.DisconnectUser(userID)
	}
}

// DisconnectUser revokes and unregisters every client owned by userID and
// returns how many there were.
func (h *Hub) DisconnectUser(userID string) int {
	if h == nil || userID == "" {
		return 0
	}
	var gone []*Client
	h.mu.Lock()
	for id, m := range h.clients {
		if m.client.UserID == userID {
			gone = append(gone, m.client)
			delete(h.clients, id)
		}
	}
	h.mu.Unlock()

	for _, c := range gone {
		metrics.FeedClients.Dec()
		c.Revoke()
		h.log.Info("feed.client.revoked", "client_id", c.ID, "user_id", userID)
	}
	return len(gone)
}

// revokedUser reports the user an event strips of feed access, if any.
func revokedUser(ev Event) (string, bool) {
	if ev.Type != TypeUserDeleted && ev.Type != TypeUserAdminToggled {
		return "", false
	}
	var p struct {
		UserID  string `json:"user_id"`
		IsAdmin bool   `json:"is_admin"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.UserID == "" {
		return "", false
	}
	if ev.Type == TypeUserAdminToggled && p.IsAdmin {
		return "", false
	}
	return p.UserID, true
}
