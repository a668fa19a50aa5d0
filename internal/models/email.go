package models

import "time"

// FolderType identifies the role of a folder in a user's mailbox.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
)

// DisplayName is the mailbox name shown to IMAP clients.
func (t FolderType) DisplayName() string {
	switch t {
	case FolderInbox:
		return "INBOX"
	case FolderSent:
		return "Sent"
	case FolderDrafts:
		return "Drafts"
	case FolderTrash:
		return "Trash"
	case FolderSpam:
		return "Junk"
	case FolderArchive:
		return "Archive"
	default:
		return string(t)
	}
}

type Folder struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	Type   FolderType `json:"type"`
	Name   string     `json:"name"`
}

type Thread struct {
	ID          string    `json:"id"`
	FolderID    string    `json:"folder_id"`
	UserID      string    `json:"user_id"`
	Subject     string    `json:"subject"`
	IsRead      bool      `json:"is_read"`
	IsStarred   bool      `json:"is_starred"`
	IsImportant bool      `json:"is_important"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Message struct {
	ID              string       `json:"id"`
	UID             int64        `json:"uid"`
	ThreadID        string       `json:"thread_id"`
	UserID          string       `json:"user_id"`
	MessageIDHeader string       `json:"message_id_header"`
	InReplyTo       string       `json:"in_reply_to,omitempty"`
	From            Address      `json:"from"`
	To              []Address    `json:"to"`
	Cc              []Address    `json:"cc"`
	Bcc             []Address    `json:"bcc"`
	Subject         string       `json:"subject"`
	BodyText        string       `json:"body_text"`
	BodyHTML        string       `json:"body_html"`
	IsRead          bool         `json:"is_read"`
	IsDraft         bool         `json:"is_draft"`
	IsSent          bool         `json:"is_sent"`
	SentAt          *time.Time   `json:"sent_at"`
	CreatedAt       time.Time    `json:"created_at"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID               string `json:"id"`
	MessageID        string `json:"message_id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	SizeBytes        int64  `json:"size_bytes"`
	StorageKey       string `json:"-"`
	ContentID        string `json:"content_id,omitempty"`
}
