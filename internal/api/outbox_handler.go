package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/outbound"
)

// maxSendRequestBytes bounds the JSON body of a send request, attachments included.
const maxSendRequestBytes = 16 << 20

// Outbox is the outbound queue as seen by the HTTP layer.
type Outbox interface {
	Enqueue(ctx context.Context, e *models.OutboundEmail) error
	Get(ctx context.Context, id string) (*models.OutboundEmail, error)
}

// OutboxHandler handles queueing outbound mail and reporting its status.
type OutboxHandler struct {
	outbox Outbox
	users  *UserResolver
}

// NewOutboxHandler creates a new OutboxHandler instance.
func NewOutboxHandler(outbox Outbox, users *UserResolver) *OutboxHandler {
	return &OutboxHandler{outbox: outbox, users: users}
}

// Send queues a message from the authenticated user and answers 202 with the entry.
func (h *OutboxHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email, userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}
	ctx = log.WithUser(log.WithOrigin(ctx, "api"), userID)

	var req models.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendRequestBytes)).Decode(&req); err != nil {
		log.DebugContext(ctx).Err(err).Msg("failed to decode send request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := newOutboundEmail(email, userID, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.outbox.Enqueue(ctx, entry); err != nil {
		if errors.Is(err, outbound.ErrMissingField) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.ErrorContext(ctx).Err(err).Msg("failed to enqueue outbound email")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, entry)
}

// Status returns the queue entry named by the {id} path value. Entries of other
// users are reported as missing.
func (h *OutboxHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, userID, ok := GetUserIDFromContext(ctx, w, h.users)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Missing outbox id", http.StatusBadRequest)
		return
	}

	entry, err := h.outbox.Get(ctx, id)
	if errors.Is(err, db.ErrOutboundNotFound) || (err == nil && (entry.UserID == nil || *entry.UserID != userID)) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Str("origin", "api").Str("user_id", userID).Err(err).Msg("failed to get outbound email")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func newOutboundEmail(email, userID string, req *models.SendRequest) (*models.OutboundEmail, error) {
	to := req.To
	if to != "" {
		addr, err := models.ParseAddress(to)
		if err != nil {
			return nil, fmt.Errorf("invalid to address %q", req.To)
		}
		to = addr.Email
	}

	cc, err := parseAddressList("cc", req.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddressList("bcc", req.Bcc)
	if err != nil {
		return nil, err
	}

	return &models.OutboundEmail{
		UserID:      &userID,
		From:        models.Address{Name: req.FromName, Email: email},
		To:          to,
		Subject:     req.Subject,
		BodyText:    req.BodyText,
		BodyHTML:    req.BodyHTML,
		Cc:          cc,
		Bcc:         bcc,
		Attachments: req.Attachments,
	}, nil
}

func parseAddressList(field string, raw []string) ([]models.Address, error) {
	out := make([]models.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := models.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s address %q", field, s)
		}
		out = append(out, addr)
	}
	return out, nil
}
