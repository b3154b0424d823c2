// Package viewer follows the published change events and relays them to
// connected websocket clients for live display.
package viewer

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
)

// Event is any published change event as seen by a viewer. OCR events leave
// the transcript fields empty and vice versa.
type Event struct {
	EventID    string  `json:"eventId"`
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	SegmentID  string  `json:"segmentId,omitempty"`
	FrameSeq   uint64  `json:"frameSeq,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Hub manages websocket connections.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	log     zerolog.Logger

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		log:     logging.WithComponent("viewer"),
		upgrader: websocket.Upgrader{
			// Local dev tool; browsers connect from file:// or another port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes ev to every client, dropping clients that fail.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Warn().Err(err).Msg("Write error, dropping client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Int("clients", n).Msg("Client connected")

	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		h.log.Info().Int("clients", len(h.clients)).Msg("Client disconnected")
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
