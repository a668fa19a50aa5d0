package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chitbox/chitbox/internal/crypto"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
)

const minAppPasswordLength = 8

// CredentialStore saves the sealed app password of a user.
type CredentialStore interface {
	SetAppPassword(ctx context.Context, userID string, encrypted []byte) error
}

// CredentialsHandler sets the app password used by SMTP AUTH and IMAP LOGIN.
type CredentialsHandler struct {
	store     CredentialStore
	encryptor *crypto.Encryptor
	users     *UserResolver
}

// NewCredentialsHandler creates a new CredentialsHandler instance.
func NewCredentialsHandler(store CredentialStore, encryptor *crypto.Encryptor, users *UserResolver) *CredentialsHandler {
	return &CredentialsHandler{store: store, encryptor: encryptor, users: users}
}

// PutCredentials replaces the app password of the current user.
func (h *CredentialsHandler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}
	ctx = log.WithUser(log.WithOrigin(ctx, "api"), userID)

	var req models.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.DebugContext(ctx).Err(err).Msg("failed to decode credentials request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.AppPassword) < minAppPasswordLength {
		http.Error(w, "App password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	sealed, err := h.encryptor.Encrypt(req.AppPassword)
	if err != nil {
		log.ErrorContext(ctx).Err(err).Msg("failed to encrypt app password")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.store.SetAppPassword(ctx, userID, sealed); err != nil {
		log.ErrorContext(ctx).Err(err).Msg("failed to save app password")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.InfoContext(ctx).Msg("app password updated")
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}
