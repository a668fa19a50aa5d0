// Package api holds the HTTP handlers of the outbox, credentials and websocket endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/cache"
	"github.com/chitbox/chitbox/internal/log"
)

// Users resolves an authenticated email to a user id, creating the user on first sight.
type Users interface {
	GetOrCreateUser(ctx context.Context, email string) (string, error)
}

// UserResolver caches email -> user id lookups. User ids never change, so
// entries only leave the cache when they expire.
type UserResolver struct {
	users Users
	ids   cache.Cache[string, string]
}

// NewUserResolver creates a UserResolver; pass cache.Noop to always hit the store.
func NewUserResolver(users Users, ids cache.Cache[string, string]) *UserResolver {
	return &UserResolver{users: users, ids: ids}
}

// Resolve returns the id of the user with the given email.
func (r *UserResolver) Resolve(ctx context.Context, email string) (string, error) {
	if id, ok := r.ids.Get(email); ok {
		return id, nil
	}

	id, err := r.users.GetOrCreateUser(ctx, email)
	if err != nil {
		return "", err
	}

	r.ids.Set(email, id)
	return id, nil
}

// GetUserIDFromContext extracts the user's email from context, resolves it to a user id,
// and writes the HTTP error itself when that fails. Returns (email, userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, users *UserResolver) (string, string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Debug().Str("origin", "api").Msg("no user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", "", false
	}

	userID, err := users.Resolve(ctx, email)
	if err != nil {
		log.Error().Str("origin", "api").Err(err).Msg("failed to get or create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", "", false
	}

	return email, userID, true
}

// writeJSON encodes v before touching w so that an encoding failure still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error().Str("origin", "api").Err(err).Msg("failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Str("origin", "api").Err(err).Msg("failed to write response")
	}
}
