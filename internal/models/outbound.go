package models

import "time"

// OutboundStatus is the delivery state of an outbound queue entry.
// pending and retrying are the only non-terminal states.
type OutboundStatus string

const (
	OutboundPending  OutboundStatus = "pending"
	OutboundRetrying OutboundStatus = "retrying"
	OutboundSent     OutboundStatus = "sent"
	OutboundFailed   OutboundStatus = "failed"
)

// Terminal reports whether no further processing happens in this state.
func (s OutboundStatus) Terminal() bool {
	return s == OutboundSent || s == OutboundFailed
}

// OutboundEmail is one entry of the outbound delivery queue.
type OutboundEmail struct {
	ID            string               `json:"id"`
	UserID        *string              `json:"user_id,omitempty"`
	From          Address              `json:"from"`
	To            string               `json:"to"`
	Subject       string               `json:"subject"`
	BodyText      string               `json:"body_text"`
	BodyHTML      string               `json:"body_html"`
	Cc            []Address            `json:"cc"`
	Bcc           []Address            `json:"bcc"`
	Attachments   []OutboundAttachment `json:"attachments,omitempty"`
	MessageID     string               `json:"message_id"`
	Status        OutboundStatus       `json:"status"`
	Attempts      int                  `json:"attempts"`
	MaxAttempts   int                  `json:"max_attempts"`
	LastAttemptAt *time.Time           `json:"last_attempt_at"`
	LastError     string               `json:"last_error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	SentAt        *time.Time           `json:"sent_at"`
}

// OutboundAttachment is serialized into the queue entry; Content is base64 in JSON.
type OutboundAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// SendRequest is the payload accepted by the outbox endpoint.
type SendRequest struct {
	FromName    string               `json:"from_name"`
	To          string               `json:"to"`
	Cc          []string             `json:"cc"`
	Bcc         []string             `json:"bcc"`
	Subject     string               `json:"subject"`
	BodyText    string               `json:"body_text"`
	BodyHTML    string               `json:"body_html"`
	Attachments []OutboundAttachment `json:"attachments"`
}

// EnvelopeRecipients lists the SMTP RCPT TO addresses: To, then Cc, then Bcc.
func (e *OutboundEmail) EnvelopeRecipients() []string {
	out := make([]string, 0, 1+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To)
	for _, a := range e.Cc {
		out = append(out, a.Email)
	}
	for _, a := range e.Bcc {
		out = append(out, a.Email)
	}
	return out
}
