package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chitbox/chitbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrOutboundNotFound is returned when a requested queue entry cannot be found.
var ErrOutboundNotFound = errors.New("outbound email not found")

// ErrOutboundNotDue is returned when an entry is terminal or out of attempts.
var ErrOutboundNotDue = errors.New("outbound email is not eligible for an attempt")

const outboundColumns = `
	id,
	user_id,
	from_address,
	from_name,
	to_address,
	subject,
	body_text,
	body_html,
	cc_addresses,
	bcc_addresses,
	attachments,
	message_id,
	status,
	attempts,
	max_attempts,
	last_attempt_at,
	last_error,
	created_at,
	sent_at`

func scanOutbound(row pgx.Row) (*models.OutboundEmail, error) {
	var e models.OutboundEmail
	var status string
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.From.Email,
		&e.From.Name,
		&e.To,
		&e.Subject,
		&e.BodyText,
		&e.BodyHTML,
		&e.Cc,
		&e.Bcc,
		&e.Attachments,
		&e.MessageID,
		&status,
		&e.Attempts,
		&e.MaxAttempts,
		&e.LastAttemptAt,
		&e.LastError,
		&e.CreatedAt,
		&e.SentAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = models.OutboundStatus(status)
	return &e, nil
}

// InsertOutbound stores a new pending queue entry with zero attempts.
// It fills in e.ID, e.Status, e.Attempts and e.CreatedAt.
func InsertOutbound(ctx context.Context, pool *pgxpool.Pool, e *models.OutboundEmail) error {
	attachments := e.Attachments
	if attachments == nil {
		attachments = []models.OutboundAttachment{}
	}

	err := pool.QueryRow(ctx, `
		INSERT INTO outbound_emails (
			user_id,
			from_address,
			from_name,
			to_address,
			subject,
			body_text,
			body_html,
			cc_addresses,
			bcc_addresses,
			attachments,
			message_id,
			max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, status, attempts, created_at
	`,
		e.UserID,
		e.From.Email,
		e.From.Name,
		e.To,
		e.Subject,
		e.BodyText,
		e.BodyHTML,
		addressList(e.Cc),
		addressList(e.Bcc),
		attachments,
		e.MessageID,
		e.MaxAttempts,
	).Scan(&e.ID, &e.Status, &e.Attempts, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert outbound email: %w", err)
	}

	return nil
}

// GetOutbound returns a queue entry by id.
func GetOutbound(ctx context.Context, pool *pgxpool.Pool, id string) (*models.OutboundEmail, error) {
	e, err := scanOutbound(pool.QueryRow(ctx, `SELECT `+outboundColumns+` FROM outbound_emails WHERE id = $1`, id))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOutboundNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get outbound email: %w", err)
	}

	return e, nil
}

// SelectDueOutbound returns up to limit non-terminal entries with attempts
// left that were never attempted or last attempted before cutoff, oldest first.
func SelectDueOutbound(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time, limit int) ([]*models.OutboundEmail, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+outboundColumns+`
		FROM outbound_emails
		WHERE status IN ('pending', 'retrying')
		  AND attempts < max_attempts
		  AND (last_attempt_at IS NULL OR last_attempt_at < $1)
		ORDER BY created_at, id
		LIMIT $2
	`, cutoff, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to select due outbound emails: %w", err)
	}
	defer rows.Close()

	var entries []*models.OutboundEmail
	for rows.Next() {
		e, err := scanOutbound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbound email: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbound emails: %w", err)
	}

	return entries, nil
}

// RecordOutboundAttempt increments the attempt count and stamps the attempt
// time. It returns the new attempt count, or ErrOutboundNotDue when the entry
// is terminal or has no attempts left.
func RecordOutboundAttempt(ctx context.Context, pool *pgxpool.Pool, id string, at time.Time) (int, error) {
	var attempts int

	err := pool.QueryRow(ctx, `
		UPDATE outbound_emails
		SET attempts = attempts + 1, last_attempt_at = $2
		WHERE id = $1
		  AND status IN ('pending', 'retrying')
		  AND attempts < max_attempts
		RETURNING attempts
	`, id, at).Scan(&attempts)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrOutboundNotDue
	}

	if err != nil {
		return 0, fmt.Errorf("failed to record outbound attempt: %w", err)
	}

	return attempts, nil
}

// MarkOutboundSent moves a non-terminal entry to sent and clears its error.
func MarkOutboundSent(ctx context.Context, pool *pgxpool.Pool, id string, at time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE outbound_emails
		SET status = 'sent', sent_at = $2, last_error = ''
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, id, at)

	if err != nil {
		return fmt.Errorf("failed to mark outbound email sent: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrOutboundNotDue
	}

	return nil
}

// MarkOutboundFailure records the error of the latest attempt, then moves the
// entry to failed when its attempts reached the cap and to retrying otherwise.
// It returns the resulting status.
func MarkOutboundFailure(ctx context.Context, pool *pgxpool.Pool, id, lastError string) (models.OutboundStatus, error) {
	var status string

	err := pool.QueryRow(ctx, `
		UPDATE outbound_emails
		SET last_error = $2,
		    status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'retrying' END
		WHERE id = $1 AND status IN ('pending', 'retrying')
		RETURNING status
	`, id, lastError).Scan(&status)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOutboundNotDue
	}

	if err != nil {
		return "", fmt.Errorf("failed to mark outbound email failure: %w", err)
	}

	return models.OutboundStatus(status), nil
}

// InterruptedAttemptError is the last_error given to entries failed by FailExhaustedOutbound
// that carry no error of their own.
const InterruptedAttemptError = "attempt interrupted before its outcome was recorded"

// FailExhaustedOutbound moves non-terminal entries that have used up their
// attempts to failed. Such entries exist when the outcome of the final attempt
// was never written. Only attempts made before cutoff are considered, so an
// attempt still in flight is left alone. It returns the ids it failed.
func FailExhaustedOutbound(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time) ([]string, error) {
	rows, err := pool.Query(ctx, `
		UPDATE outbound_emails
		SET status = 'failed',
		    last_error = COALESCE(NULLIF(last_error, ''), $2)
		WHERE status IN ('pending', 'retrying')
		  AND attempts >= max_attempts
		  AND (last_attempt_at IS NULL OR last_attempt_at < $1)
		RETURNING id
	`, cutoff, InterruptedAttemptError)

	if err != nil {
		return nil, fmt.Errorf("failed to fail exhausted outbound emails: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to fail exhausted outbound emails: %w", err)
	}

	return ids, nil
}
