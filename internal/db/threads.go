package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/chitbox/chitbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

const threadColumns = `id, folder_id, user_id, subject, is_read, is_starred, is_important, created_at, updated_at`

func scanThread(row pgx.Row) (*models.Thread, error) {
	var thread models.Thread
	err := row.Scan(
		&thread.ID,
		&thread.FolderID,
		&thread.UserID,
		&thread.Subject,
		&thread.IsRead,
		&thread.IsStarred,
		&thread.IsImportant,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// FindOrCreateThread returns the thread in the folder whose subject equals
// subject exactly, creating one when none exists. When several threads share
// the subject, the most recently updated one wins.
//
// Concurrent calls for the same folder and subject are serialized with a
// transaction-scoped advisory lock so they cannot both create a thread.
func FindOrCreateThread(ctx context.Context, pool *pgxpool.Pool, folderID, userID, subject string) (string, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, folderID+"\x00"+subject); err != nil {
		return "", fmt.Errorf("failed to lock thread subject: %w", err)
	}

	var threadID string
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM threads
		WHERE folder_id = $1 AND user_id = $2 AND subject = $3
		ORDER BY updated_at DESC
		LIMIT 1
	`, folderID, userID, subject).Scan(&threadID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			INSERT INTO threads (folder_id, user_id, subject)
			VALUES ($1, $2, $3)
			RETURNING id
		`, folderID, userID, subject).Scan(&threadID)
		if err != nil {
			return "", fmt.Errorf("failed to create thread: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("failed to find thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit thread: %w", err)
	}

	return threadID, nil
}

// FindThreadByMessageID returns the thread of the most recent message in the
// folder whose Message-ID header is one of messageIDs.
func FindThreadByMessageID(ctx context.Context, pool *pgxpool.Pool, folderID, userID string, messageIDs []string) (string, error) {
	if len(messageIDs) == 0 {
		return "", ErrThreadNotFound
	}

	var threadID string
	err := pool.QueryRow(ctx, `
		SELECT m.thread_id
		FROM messages m
		INNER JOIN threads t ON t.id = m.thread_id
		WHERE t.folder_id = $1 AND m.user_id = $2 AND m.message_id_header = ANY($3)
		ORDER BY m.created_at DESC
		LIMIT 1
	`, folderID, userID, messageIDs).Scan(&threadID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrThreadNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to find thread by message id: %w", err)
	}

	return threadID, nil
}

// GetThreadByID returns a thread by its database ID.
func GetThreadByID(ctx context.Context, pool *pgxpool.Pool, threadID string) (*models.Thread, error) {
	thread, err := scanThread(pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, threadID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread by ID: %w", err)
	}

	return thread, nil
}

// GetThreadsForFolder returns the threads of a folder, most recently updated first.
func GetThreadsForFolder(ctx context.Context, pool *pgxpool.Pool, folderID string) ([]*models.Thread, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE folder_id = $1
		ORDER BY updated_at DESC
	`, folderID)

	if err != nil {
		return nil, fmt.Errorf("failed to get threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}
