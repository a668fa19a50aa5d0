package models

import (
	"time"
)

// User represents a ChitBox mailbox owner.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialsRequest is the payload for setting the app password used by SMTP AUTH and IMAP LOGIN.
type CredentialsRequest struct {
	AppPassword string `json:"app_password"`
}
