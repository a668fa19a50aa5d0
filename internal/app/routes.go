package app

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chitbox/chitbox/internal/api"
	"github.com/chitbox/chitbox/internal/auth"
)

// NewHandler creates the HTTP handler of the ChitBox API.
func NewHandler(outbox *api.OutboxHandler, credentials *api.CredentialsHandler, ws *api.WebSocketHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/v1/outbox", auth.RequireAuth(http.HandlerFunc(outbox.Send)))
	mux.Handle("GET /api/v1/outbox/{id}", auth.RequireAuth(http.HandlerFunc(outbox.Status)))
	mux.Handle("PUT /api/v1/credentials", auth.RequireAuth(http.HandlerFunc(credentials.PutCredentials)))
	// The websocket handler authenticates on its own: browsers can't set headers on the upgrade.
	mux.Handle("GET /api/v1/ws", http.HandlerFunc(ws.Handle))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "ChitBox is running")
}
