package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/chitbox/chitbox/internal/crypto"
	"github.com/chitbox/chitbox/internal/db"
)

// ErrInvalidCredentials is returned for an unknown user, a user without an
// app password, or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AppPasswordStore loads the sealed app password of a user.
type AppPasswordStore interface {
	GetAppPassword(ctx context.Context, email string) (string, []byte, error)
}

// AppPasswords checks SMTP AUTH and IMAP LOGIN credentials against the
// encrypted app password stored for the user.
type AppPasswords struct {
	store     AppPasswordStore
	encryptor *crypto.Encryptor
}

func NewAppPasswords(store AppPasswordStore, encryptor *crypto.Encryptor) *AppPasswords {
	return &AppPasswords{store: store, encryptor: encryptor}
}

// Authenticate returns the id of the user whose app password matches.
func (a *AppPasswords) Authenticate(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	userID, sealed, err := a.store.GetAppPassword(ctx, email)
	if errors.Is(err, db.ErrUserNotFound) || errors.Is(err, db.ErrNoAppPassword) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to load app password: %w", err)
	}

	if !a.encryptor.Matches(sealed, password) {
		return "", ErrInvalidCredentials
	}

	return userID, nil
}
