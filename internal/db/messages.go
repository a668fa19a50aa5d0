package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/chitbox/chitbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `
	id,
	uid,
	thread_id,
	user_id,
	message_id_header,
	in_reply_to,
	from_address,
	from_name,
	to_addresses,
	cc_addresses,
	bcc_addresses,
	subject,
	body_text,
	body_html,
	is_read,
	is_draft,
	is_sent,
	sent_at,
	created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.UID,
		&msg.ThreadID,
		&msg.UserID,
		&msg.MessageIDHeader,
		&msg.InReplyTo,
		&msg.From.Email,
		&msg.From.Name,
		&msg.To,
		&msg.Cc,
		&msg.Bcc,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.IsRead,
		&msg.IsDraft,
		&msg.IsSent,
		&msg.SentAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// addressList keeps nil slices from being stored as JSON null.
func addressList(addrs []models.Address) []models.Address {
	if addrs == nil {
		return []models.Address{}
	}
	return addrs
}

// InsertMessage stores a message together with its attachment rows in one
// transaction and bumps the parent thread. It fills in msg.ID, msg.UID,
// msg.CreatedAt and the attachment IDs.
func InsertMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.Message) (string, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			thread_id,
			user_id,
			message_id_header,
			in_reply_to,
			from_address,
			from_name,
			to_addresses,
			cc_addresses,
			bcc_addresses,
			subject,
			body_text,
			body_html,
			is_read,
			is_draft,
			is_sent,
			sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, uid, created_at
	`,
		msg.ThreadID,
		msg.UserID,
		msg.MessageIDHeader,
		msg.InReplyTo,
		msg.From.Email,
		msg.From.Name,
		addressList(msg.To),
		addressList(msg.Cc),
		addressList(msg.Bcc),
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.IsRead,
		msg.IsDraft,
		msg.IsSent,
		msg.SentAt,
	).Scan(&msg.ID, &msg.UID, &msg.CreatedAt)

	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		att.MessageID = msg.ID
		if err := insertAttachment(ctx, tx, att); err != nil {
			return "", err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE threads
		SET updated_at = now(), is_read = is_read AND $2
		WHERE id = $1
	`, msg.ThreadID, msg.IsRead)
	if err != nil {
		return "", fmt.Errorf("failed to touch thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit message: %w", err)
	}

	return msg.ID, nil
}

func insertAttachment(ctx context.Context, tx pgx.Tx, attachment *models.Attachment) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO attachments (message_id, filename, original_filename, mime_type, size_bytes, storage_key, content_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		attachment.MessageID,
		attachment.Filename,
		attachment.OriginalFilename,
		attachment.MimeType,
		attachment.SizeBytes,
		attachment.StorageKey,
		attachment.ContentID,
	).Scan(&attachment.ID)

	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}

	return nil
}

// GetMessageByID returns a message without its attachments.
func GetMessageByID(ctx context.Context, pool *pgxpool.Pool, messageID string) (*models.Message, error) {
	msg, err := scanMessage(pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// GetMessagesForThread returns all messages for a thread.
func GetMessagesForThread(ctx context.Context, pool *pgxpool.Pool, threadID string) ([]*models.Message, error) {
	return queryMessages(ctx, pool, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = $1
		ORDER BY uid
	`, threadID)
}

// GetMessagesForFolder returns the user's messages in a folder ordered by UID.
func GetMessagesForFolder(ctx context.Context, pool *pgxpool.Pool, userID, folderID string) ([]*models.Message, error) {
	return queryMessages(ctx, pool, `
		SELECT `+prefixed("m", messageColumns)+`
		FROM messages m
		INNER JOIN threads t ON t.id = m.thread_id
		WHERE m.user_id = $1 AND t.folder_id = $2
		ORDER BY m.uid
	`, userID, folderID)
}

func queryMessages(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// SetMessagesRead updates the read flag of the user's messages.
func SetMessagesRead(ctx context.Context, pool *pgxpool.Pool, userID string, messageIDs []string, read bool) error {
	if len(messageIDs) == 0 {
		return nil
	}

	_, err := pool.Exec(ctx, `
		UPDATE messages
		SET is_read = $3
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, messageIDs, read)

	if err != nil {
		return fmt.Errorf("failed to update read flag: %w", err)
	}

	return nil
}

// GetAttachmentsForMessage returns all attachments for a message.
func GetAttachmentsForMessage(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, filename, original_filename, mime_type, size_bytes, storage_key, content_id
		FROM attachments
		WHERE message_id = $1
		ORDER BY created_at, id
	`, messageID)

	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.Filename,
			&att.OriginalFilename,
			&att.MimeType,
			&att.SizeBytes,
			&att.StorageKey,
			&att.ContentID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
