package services

import (
	"encoding/json"
	"sync"

	"couplesync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub manages the change feed WebSocket connections. Every mutation is
// broadcast to every connected client; relevance filtering happens on the
// client side, where the signed-in identity lives.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*websocket.Conn
}

// NewHub creates a new change feed hub
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*websocket.Conn),
	}
}

// Register registers a new WebSocket connection for a user
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Close existing connection if any
	if existing, ok := h.connections[userID]; ok {
		existing.Close()
	}
	h.connections[userID] = conn

	log.Info().Str("user_id", userID).Msg("Change feed connection registered")
}

// Unregister removes a WebSocket connection for a user
func (h *Hub) Unregister(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.connections[userID]; ok {
		conn.Close()
		delete(h.connections, userID)
		log.Info().Str("user_id", userID).Msg("Change feed connection unregistered")
	}
}

// Broadcast sends a change event to every connected client. Connections
// that fail to take the write are dropped.
func (h *Hub) Broadcast(event models.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal change event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conn := range h.connections {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Dropping dead change feed connection")
			conn.Close()
			delete(h.connections, userID)
		}
	}
}

// Close shuts down every connection, for graceful shutdown
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conn := range h.connections {
		conn.Close()
		delete(h.connections, userID)
	}
}
