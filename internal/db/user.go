package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/chitbox/chitbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrNoAppPassword is returned when a user exists but never set an app password.
var ErrNoAppPassword = errors.New("app password not set")

// GetOrCreateUser returns the user's id for the given email.
// If no user exists with that email, it creates a new one.
func GetOrCreateUser(ctx context.Context, pool *pgxpool.Pool, email string) (string, error) {
	var userID string

	err := pool.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}

// FindUserByEmail returns the user whose stored email equals email exactly.
// The comparison is case-sensitive and no alias expansion happens.
func FindUserByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*models.User, error) {
	var user models.User

	err := pool.QueryRow(ctx, `
		SELECT id, email, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

// SetAppPassword stores the encrypted app password for a user.
func SetAppPassword(ctx context.Context, pool *pgxpool.Pool, userID string, encrypted []byte) error {
	tag, err := pool.Exec(ctx, `
		UPDATE users
		SET encrypted_app_password = $2, updated_at = now()
		WHERE id = $1
	`, userID, encrypted)

	if err != nil {
		return fmt.Errorf("failed to set app password: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// GetAppPassword returns the user's id and encrypted app password by email.
func GetAppPassword(ctx context.Context, pool *pgxpool.Pool, email string) (string, []byte, error) {
	var userID string
	var encrypted []byte

	err := pool.QueryRow(ctx, `
		SELECT id, encrypted_app_password
		FROM users
		WHERE email = $1
	`, email).Scan(&userID, &encrypted)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrUserNotFound
	}

	if err != nil {
		return "", nil, fmt.Errorf("failed to get app password: %w", err)
	}

	if len(encrypted) == 0 {
		return userID, nil, ErrNoAppPassword
	}

	return userID, encrypted, nil
}
