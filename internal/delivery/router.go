// Package delivery files inbound envelopes into local mailboxes.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
)

// MailboxStore is the part of the mailbox store the router writes to.
type MailboxStore interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindOrCreateFolder(ctx context.Context, userID string, folderType models.FolderType) (string, error)
	FindThreadByMessageID(ctx context.Context, folderID, userID string, messageIDs []string) (string, error)
	FindOrCreateThread(ctx context.Context, folderID, userID, subject string) (string, error)
	InsertMessage(ctx context.Context, msg *models.Message) (string, error)
}

// BlobStore holds attachment payloads.
type BlobStore interface {
	Write(r io.Reader) (string, int64, error)
	Delete(key string) error
}

// Router delivers envelopes to the users named as recipients.
type Router struct {
	store MailboxStore
	blobs BlobStore
	now   func() time.Time
}

// NewRouter creates a Router.
func NewRouter(store MailboxStore, blobs BlobStore) *Router {
	return &Router{
		store: store,
		blobs: blobs,
		now:   time.Now,
	}
}

// Report summarizes one Deliver call.
type Report struct {
	Delivered int
	External  int
	Failed    int
	Events    []Event
}

// AllFailed reports whether there were local recipients and none of them got the message.
func (r *Report) AllFailed() bool {
	return r.Failed > 0 && r.Delivered == 0
}

// Deliver files env into the inbox of every known recipient, To first, then Cc, then Bcc.
// Unknown recipients are external and only logged. A failure for one recipient is
// logged and counted; it never stops delivery to the others.
func (r *Router) Deliver(ctx context.Context, env *models.Envelope) *Report {
	report := &Report{}

	for _, rcpt := range env.Recipients() {
		email := rcpt.Address.Email

		user, err := r.store.FindUserByEmail(ctx, email)
		if errors.Is(err, db.ErrUserNotFound) {
			log.InfoContext(ctx).Str("recipient", email).Str("kind", string(rcpt.Kind)).Msg("recipient is external, not storing")
			report.External++
			continue
		}
		if err != nil {
			log.ErrorContext(ctx).Err(err).Str("recipient", email).Msg("failed to look up recipient")
			report.Failed++
			continue
		}

		msg, err := r.File(ctx, user.ID, models.FolderInbox, env, Flags{})
		if err != nil {
			log.ErrorContext(ctx).Err(err).Str("recipient", email).Str("user_id", user.ID).Msg("failed to deliver message")
			report.Failed++
			continue
		}

		log.InfoContext(ctx).
			Str("recipient", email).
			Str("user_id", user.ID).
			Str("message_id", msg.ID).
			Str("thread_id", msg.ThreadID).
			Msg("message delivered")

		report.Delivered++
		report.Events = append(report.Events, NewEvent(EventMessageReceived, user.ID, models.FolderInbox, msg))
	}

	return report
}

// Flags are the initial state of a filed message.
type Flags struct {
	Read bool
	Sent bool
}

// File stores env as one message in the given folder of a user and returns it.
// Attachment payloads are written to the blob store first and removed again when
// the message cannot be inserted.
func (r *Router) File(ctx context.Context, userID string, folderType models.FolderType, env *models.Envelope, flags Flags) (*models.Message, error) {
	folderID, err := r.store.FindOrCreateFolder(ctx, userID, folderType)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s folder: %w", folderType, err)
	}

	threadID, err := r.resolveThread(ctx, folderID, userID, env)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thread: %w", err)
	}

	attachments, err := r.writeAttachments(env.Attachments)
	if err != nil {
		return nil, err
	}

	sentAt := env.Date
	if sentAt.IsZero() {
		sentAt = r.now()
	}

	msg := &models.Message{
		ThreadID:        threadID,
		UserID:          userID,
		MessageIDHeader: env.MessageID,
		InReplyTo:       env.InReplyTo,
		From:            env.From,
		To:              env.To,
		Cc:              env.Cc,
		Bcc:             env.Bcc,
		Subject:         env.Subject,
		BodyText:        env.Text,
		BodyHTML:        env.HTML,
		IsRead:          flags.Read,
		IsSent:          flags.Sent,
		SentAt:          &sentAt,
		Attachments:     attachments,
	}

	if _, err := r.store.InsertMessage(ctx, msg); err != nil {
		r.deleteBlobs(ctx, attachments)
		return nil, err
	}

	return msg, nil
}

// resolveThread prefers the thread of a message this envelope replies to and
// falls back to the most recently updated thread with the same subject.
func (r *Router) resolveThread(ctx context.Context, folderID, userID string, env *models.Envelope) (string, error) {
	if refs := env.ThreadReferences(); len(refs) > 0 {
		threadID, err := r.store.FindThreadByMessageID(ctx, folderID, userID, refs)
		if err == nil {
			return threadID, nil
		}
		if !errors.Is(err, db.ErrThreadNotFound) {
			return "", err
		}
	}

	return r.store.FindOrCreateThread(ctx, folderID, userID, env.Subject)
}

func (r *Router) writeAttachments(parts []models.EnvelopeAttachment) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, 0, len(parts))

	for _, part := range parts {
		key, size, err := r.blobs.Write(bytes.NewReader(part.Content))
		if err != nil {
			r.deleteBlobs(context.Background(), attachments)
			return nil, fmt.Errorf("failed to store attachment %q: %w", part.Filename, err)
		}

		attachments = append(attachments, models.Attachment{
			Filename:         safeFilename(part.Filename),
			OriginalFilename: part.Filename,
			MimeType:         part.ContentType,
			SizeBytes:        size,
			StorageKey:       key,
			ContentID:        part.ContentID,
		})
	}

	return attachments, nil
}

func (r *Router) deleteBlobs(ctx context.Context, attachments []models.Attachment) {
	for _, a := range attachments {
		if err := r.blobs.Delete(a.StorageKey); err != nil {
			log.WarnContext(ctx).Err(err).Str("storage_key", a.StorageKey).Msg("could not delete orphaned attachment blob")
		}
	}
}

// safeFilename strips any directory part and control characters.
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "attachment"
	}
	return name
}
