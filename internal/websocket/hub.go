// Package websocket fans delivery events out to the browser sessions of a user.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chitbox/chitbox/internal/log"
)

const writeWait = 5 * time.Second

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per user.
// A user may hold several connections at once (one per tab).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{} // userID -> set of clients
	maxPerUser int
}

// NewHub creates a new Hub with a per-user connection limit.
func NewHub(maxPerUser int) *Hub {
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxPerUser: maxPerUser,
	}
}

// Register adds a WebSocket connection for the given user.
// If the per-user limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[userID]
	if !ok {
		userClients = make(map[*Client]struct{})
		h.clients[userID] = userClients
	}

	if len(userClients) >= h.maxPerUser {
		log.Warn().
			Str("origin", "ws").
			Str("user_id", userID).
			Int("limit", h.maxPerUser).
			Msg("too many connections, closing new one")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
		return nil
	}

	client := &Client{conn: conn}
	userClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given user and closes the connection.
func (h *Hub) Unregister(userID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if userClients, ok := h.clients[userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send writes msg to every active connection of the user. Users without a
// connection are skipped silently. A failed write drops that connection.
func (h *Hub) Send(userID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			log.Warn().Err(err).Str("origin", "ws").Str("user_id", userID).Msg("failed to write event")
			h.Unregister(userID, client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for a user.
func (h *Hub) ActiveConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}
