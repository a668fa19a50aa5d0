package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/log"
	ws "github.com/chitbox/chitbox/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for delivery events.
type WebSocketHandler struct {
	users *UserResolver
	hub   *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(users *UserResolver, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{users: users, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	// The server runs behind a reverse proxy that enforces origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub.
// Browsers cannot set headers on WebSocket requests, so the token is read from
// ?token= first and from the Authorization header second.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := log.WithOrigin(r.Context(), "ws")

	token := r.URL.Query().Get("token")
	if token == "" {
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
			token = strings.TrimSpace(strings.Join(fields[1:], " "))
		}
	}

	if token == "" {
		log.DebugContext(ctx).Msg("no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userEmail, err := auth.ValidateToken(token)
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("token validation failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.users.Resolve(ctx, userEmail)
	if err != nil {
		log.ErrorContext(ctx).Err(err).Msg("failed to get or create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	ctx = log.WithUser(ctx, userID)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WarnContext(ctx).Err(err).Msg("failed to upgrade connection")
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		return
	}

	log.DebugContext(ctx).Int("connections", h.hub.ActiveConnections(userID)).Msg("websocket connected")

	go h.readLoop(userID, client)
}

// readLoop drains the connection until the peer goes away, then unregisters it.
// Clients never send anything meaningful; reading is what notices the close.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(userID, client)
}
