// Package imapd serves the mailbox store over IMAP. Clients can browse, fetch
// and search messages and toggle \Seen; everything else is refused.
package imapd

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"

	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/cache"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
)

var errReadOnly = errors.New("mailbox changes are not supported")

// Store is the part of the mailbox store exposed over IMAP.
type Store interface {
	FindOrCreateFolder(ctx context.Context, userID string, folderType models.FolderType) (string, error)
	ListFolders(ctx context.Context, userID string) ([]*models.Folder, error)
	GetFolderByName(ctx context.Context, userID, name string) (*models.Folder, error)
	GetMessagesForFolder(ctx context.Context, userID, folderID string) ([]*models.Message, error)
	GetAttachmentsForMessage(ctx context.Context, messageID string) ([]models.Attachment, error)
	SetMessagesRead(ctx context.Context, userID string, messageIDs []string, read bool) error
}

// Authenticator checks LOGIN credentials and returns the user id.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

// BlobReader loads attachment payloads.
type BlobReader interface {
	ReadAll(key string) ([]byte, error)
}

// Renderer turns a stored message back into RFC 5322 bytes.
type Renderer interface {
	Stored(m *models.Message, attachments []mime.StoredAttachment) ([]byte, error)
}

// Backend implements backend.Backend over the mailbox store.
type Backend struct {
	store    Store
	auth     Authenticator
	blobs    BlobReader
	renderer Renderer
	rendered cache.Cache[string, []byte]
	sessions atomic.Uint64
}

// NewBackend creates a Backend. Rendered messages are kept in rendered, keyed by
// message id; pass cache.Noop to render on every FETCH.
func NewBackend(store Store, authenticator Authenticator, blobs BlobReader, renderer Renderer, rendered cache.Cache[string, []byte]) *Backend {
	return &Backend{
		store:    store,
		auth:     authenticator,
		blobs:    blobs,
		renderer: renderer,
		rendered: rendered,
	}
}

func (b *Backend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	ctx := log.WithConnection(log.WithOrigin(context.Background(), "imap"), b.sessions.Add(1))

	var remote string
	if connInfo != nil && connInfo.RemoteAddr != nil {
		remote = connInfo.RemoteAddr.String()
	}

	userID, err := b.auth.Authenticate(ctx, username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		log.WarnContext(ctx).Str("username", username).Str("remote", remote).Msg("IMAP login failed")
		return nil, backend.ErrInvalidCredentials
	}
	if err != nil {
		log.ErrorContext(ctx).Err(err).Str("username", username).Msg("IMAP login unavailable")
		return nil, err
	}

	ctx = log.WithUser(ctx, userID)

	// INBOX always exists, even before the first delivery.
	if _, err := b.store.FindOrCreateFolder(ctx, userID, models.FolderInbox); err != nil {
		log.ErrorContext(ctx).Err(err).Msg("failed to ensure INBOX")
		return nil, err
	}

	log.InfoContext(ctx).Str("remote", remote).Msg("IMAP login")

	return &user{backend: b, ctx: ctx, id: userID, email: username}, nil
}

type user struct {
	backend *Backend
	ctx     context.Context
	id      string
	email   string
}

func (u *user) Username() string {
	return u.email
}

func (u *user) ListMailboxes(_ bool) ([]backend.Mailbox, error) {
	folders, err := u.backend.store.ListFolders(u.ctx, u.id)
	if err != nil {
		return nil, err
	}

	mailboxes := make([]backend.Mailbox, 0, len(folders))
	for _, f := range folders {
		mailboxes = append(mailboxes, &mailbox{user: u, folder: f})
	}
	return mailboxes, nil
}

func (u *user) GetMailbox(name string) (backend.Mailbox, error) {
	if strings.EqualFold(name, imap.InboxName) {
		name = imap.InboxName
	}

	folder, err := u.backend.store.GetFolderByName(u.ctx, u.id, name)
	if errors.Is(err, db.ErrFolderNotFound) {
		return nil, backend.ErrNoSuchMailbox
	}
	if err != nil {
		return nil, err
	}

	return &mailbox{user: u, folder: folder}, nil
}

func (u *user) CreateMailbox(string) error {
	return errReadOnly
}

func (u *user) DeleteMailbox(string) error {
	return errReadOnly
}

func (u *user) RenameMailbox(string, string) error {
	return errReadOnly
}

func (u *user) Logout() error {
	log.InfoContext(u.ctx).Msg("IMAP logout")
	return nil
}
