package models

import (
	"strings"
	"time"
)

// Envelope is the structured form of one inbound message.
// It is built once per accepted SMTP transaction and never modified afterwards.
type Envelope struct {
	From        Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Subject     string
	Text        string
	HTML        string
	Attachments []EnvelopeAttachment
	MessageID   string
	InReplyTo   string
	References  []string
	Date        time.Time
}

// EnvelopeAttachment is a binary part carried by an Envelope.
type EnvelopeAttachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Content     []byte
}

// Recipient is one delivery target of an Envelope.
type Recipient struct {
	Address Address
	Kind    RecipientKind
}

type RecipientKind string

const (
	RecipientTo  RecipientKind = "to"
	RecipientCc  RecipientKind = "cc"
	RecipientBcc RecipientKind = "bcc"
)

// Recipients lists To, then Cc, then Bcc.
func (e *Envelope) Recipients() []Recipient {
	out := make([]Recipient, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	for _, a := range e.To {
		out = append(out, Recipient{Address: a, Kind: RecipientTo})
	}
	for _, a := range e.Cc {
		out = append(out, Recipient{Address: a, Kind: RecipientCc})
	}
	for _, a := range e.Bcc {
		out = append(out, Recipient{Address: a, Kind: RecipientBcc})
	}
	return out
}

// ThreadReferences returns the message identifiers this envelope replies to,
// In-Reply-To first.
func (e *Envelope) ThreadReferences() []string {
	var ids []string
	if e.InReplyTo != "" {
		ids = append(ids, e.InReplyTo)
	}
	for i := len(e.References) - 1; i >= 0; i-- {
		if e.References[i] != e.InReplyTo {
			ids = append(ids, e.References[i])
		}
	}
	return ids
}

// ScopeToRecipients returns a copy of the envelope whose recipient lists only
// contain the SMTP RCPT TO addresses. Header To and Cc entries that were not
// named in RCPT TO are dropped; RCPT TO addresses not present in the headers
// become Bcc. An empty rcpts list returns the envelope unchanged.
func (e *Envelope) ScopeToRecipients(rcpts []string) *Envelope {
	if len(rcpts) == 0 {
		return e
	}

	pending := make([]string, 0, len(rcpts))
	seen := make(map[string]bool, len(rcpts))
	for _, r := range rcpts {
		key := strings.ToLower(r)
		if !seen[key] {
			seen[key] = true
			pending = append(pending, r)
		}
	}

	take := func(addr Address) bool {
		for i, r := range pending {
			if strings.EqualFold(r, addr.Email) {
				pending = append(pending[:i], pending[i+1:]...)
				return true
			}
		}
		return false
	}

	scoped := *e
	scoped.To, scoped.Cc, scoped.Bcc = nil, nil, nil
	for _, a := range e.To {
		if take(a) {
			scoped.To = append(scoped.To, a)
		}
	}
	for _, a := range e.Cc {
		if take(a) {
			scoped.Cc = append(scoped.Cc, a)
		}
	}
	for _, a := range e.Bcc {
		if take(a) {
			scoped.Bcc = append(scoped.Bcc, a)
		}
	}
	for _, r := range pending {
		scoped.Bcc = append(scoped.Bcc, Address{Email: r})
	}

	return &scoped
}
