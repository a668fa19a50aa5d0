package db

import (
	"context"
	"time"

	"github.com/chitbox/chitbox/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store exposes the package functions as methods over one pool so that
// consumers can depend on small interfaces and be tested with fakes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store that uses the given database pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return FindUserByEmail(ctx, s.pool, email)
}

func (s *Store) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	return GetOrCreateUser(ctx, s.pool, email)
}

func (s *Store) GetAppPassword(ctx context.Context, email string) (string, []byte, error) {
	return GetAppPassword(ctx, s.pool, email)
}

func (s *Store) SetAppPassword(ctx context.Context, userID string, encrypted []byte) error {
	return SetAppPassword(ctx, s.pool, userID, encrypted)
}

func (s *Store) FindOrCreateFolder(ctx context.Context, userID string, folderType models.FolderType) (string, error) {
	return FindOrCreateFolder(ctx, s.pool, userID, folderType)
}

func (s *Store) GetFolderByName(ctx context.Context, userID, name string) (*models.Folder, error) {
	return GetFolderByName(ctx, s.pool, userID, name)
}

func (s *Store) ListFolders(ctx context.Context, userID string) ([]*models.Folder, error) {
	return ListFolders(ctx, s.pool, userID)
}

func (s *Store) FindOrCreateThread(ctx context.Context, folderID, userID, subject string) (string, error) {
	return FindOrCreateThread(ctx, s.pool, folderID, userID, subject)
}

func (s *Store) FindThreadByMessageID(ctx context.Context, folderID, userID string, messageIDs []string) (string, error) {
	return FindThreadByMessageID(ctx, s.pool, folderID, userID, messageIDs)
}

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	return InsertMessage(ctx, s.pool, msg)
}

func (s *Store) GetMessagesForFolder(ctx context.Context, userID, folderID string) ([]*models.Message, error) {
	return GetMessagesForFolder(ctx, s.pool, userID, folderID)
}

func (s *Store) GetAttachmentsForMessage(ctx context.Context, messageID string) ([]models.Attachment, error) {
	return GetAttachmentsForMessage(ctx, s.pool, messageID)
}

func (s *Store) SetMessagesRead(ctx context.Context, userID string, messageIDs []string, read bool) error {
	return SetMessagesRead(ctx, s.pool, userID, messageIDs, read)
}

func (s *Store) InsertOutbound(ctx context.Context, e *models.OutboundEmail) error {
	return InsertOutbound(ctx, s.pool, e)
}

func (s *Store) GetOutbound(ctx context.Context, id string) (*models.OutboundEmail, error) {
	return GetOutbound(ctx, s.pool, id)
}

func (s *Store) SelectDueOutbound(ctx context.Context, cutoff time.Time, limit int) ([]*models.OutboundEmail, error) {
	return SelectDueOutbound(ctx, s.pool, cutoff, limit)
}

func (s *Store) RecordOutboundAttempt(ctx context.Context, id string, at time.Time) (int, error) {
	return RecordOutboundAttempt(ctx, s.pool, id, at)
}

func (s *Store) MarkOutboundSent(ctx context.Context, id string, at time.Time) error {
	return MarkOutboundSent(ctx, s.pool, id, at)
}

func (s *Store) MarkOutboundFailure(ctx context.Context, id, lastError string) (models.OutboundStatus, error) {
	return MarkOutboundFailure(ctx, s.pool, id, lastError)
}

func (s *Store) FailExhaustedOutbound(ctx context.Context, cutoff time.Time) ([]string, error) {
	return FailExhaustedOutbound(ctx, s.pool, cutoff)
}
