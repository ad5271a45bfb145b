package session

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/intakehq/intake/internal/surface"
)

// Hub fans surface card updates out to websocket subscribers, one set of
// connections per session. Writes that fail drop the connection; clients
// reconnect and fetch the current surface on demand.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*websocket.Conn]bool)}
}

// Subscribe registers a connection for a session's card updates and
// pushes the current card list as its first frame. The write happens
// under the hub lock: gorilla connections allow one concurrent writer,
// and a Broadcast for the same session may fire at any moment.
func (h *Hub) Subscribe(sessionID string, conn *websocket.Conn, cards []surface.Card) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*websocket.Conn]bool)
	}
	h.subs[sessionID][conn] = true
	if err := conn.WriteJSON(frame(sessionID, cards)); err != nil {
		conn.Close()
		delete(h.subs[sessionID], conn)
		return err
	}
	return nil
}

// Unsubscribe removes a connection.
func (h *Hub) Unsubscribe(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sessionID], conn)
}

// Broadcast pushes the card list to every subscriber of the session.
func (h *Hub) Broadcast(sessionID string, cards []surface.Card) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subs[sessionID] {
		if err := conn.WriteJSON(frame(sessionID, cards)); err != nil {
			conn.Close()
			delete(h.subs[sessionID], conn)
		}
	}
}

func frame(sessionID string, cards []surface.Card) map[string]any {
	return map[string]any{
		"session_id": sessionID,
		"cards":      cards,
	}
}

// Count returns the number of subscribers for a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
