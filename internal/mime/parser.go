// Package mime converts between raw RFC 5322 messages and ChitBox models.
package mime

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"

	"github.com/chitbox/chitbox/internal/models"
)

// ErrMalformed is wrapped by every error caused by the message structure itself.
var ErrMalformed = errors.New("malformed message")

// DefaultSubject replaces a missing or blank Subject header.
const DefaultSubject = "No Subject"

type parseOptions struct {
	envelopeSender string
	now            func() time.Time
}

// Option configures Parse.
type Option func(*parseOptions)

// WithEnvelopeSender sets the SMTP MAIL FROM address used when the From header is missing.
func WithEnvelopeSender(addr string) Option {
	return func(o *parseOptions) {
		o.envelopeSender = addr
	}
}

// WithClock sets the time source used when the Date header is missing.
func WithClock(now func() time.Time) Option {
	return func(o *parseOptions) {
		o.now = now
	}
}

// Parse reads a complete message and returns its Envelope.
func Parse(r io.Reader, opts ...Option) (*models.Envelope, error) {
	o := parseOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read message: %v", ErrMalformed, err)
	}

	header, err := readHeader(raw)
	if err != nil {
		return nil, err
	}

	parsed, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, perr := range parsed.Errors {
		if perr.Severe {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, perr.Name, perr.Detail)
		}
	}

	env := &models.Envelope{
		From:    sender(parsed, o.envelopeSender),
		To:      addressList(parsed, "To"),
		Cc:      addressList(parsed, "Cc"),
		Bcc:     addressList(parsed, "Bcc"),
		Subject: strings.TrimSpace(parsed.GetHeader("Subject")),
		Text:    parsed.Text,
		HTML:    parsed.HTML,
	}
	if env.Subject == "" {
		env.Subject = DefaultSubject
	}
	if env.HTML == "" && env.Text != "" {
		env.HTML = TextToHTML(env.Text)
	}

	for _, part := range append(parsed.Attachments, parsed.Inlines...) {
		env.Attachments = append(env.Attachments, attachment(part, len(env.Attachments)+1))
	}

	mh := mail.Header{Header: message.Header{Header: header}}
	if ids := msgIDs(mh, "Message-Id"); len(ids) > 0 {
		env.MessageID = ids[0]
	}
	if ids := msgIDs(mh, "In-Reply-To"); len(ids) > 0 {
		env.InReplyTo = ids[0]
	}
	env.References = msgIDs(mh, "References")

	env.Date, err = mh.Date()
	if err != nil || env.Date.IsZero() {
		env.Date = o.now()
	}

	sanitize(env)
	return env, nil
}

// cleanText makes s storable as Postgres TEXT: invalid UTF-8 becomes U+FFFD
// and NUL bytes are dropped.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

func cleanAddress(a *models.Address) {
	a.Name = cleanText(a.Name)
	a.Email = cleanText(a.Email)
}

func cleanAddresses(list []models.Address) {
	for i := range list {
		cleanAddress(&list[i])
	}
}

// sanitize cleans every string field of env that ends up in the store.
// Attachment content stays binary.
func sanitize(env *models.Envelope) {
	cleanAddress(&env.From)
	cleanAddresses(env.To)
	cleanAddresses(env.Cc)
	cleanAddresses(env.Bcc)

	env.Subject = cleanText(env.Subject)
	if strings.TrimSpace(env.Subject) == "" {
		env.Subject = DefaultSubject
	}
	env.Text = cleanText(env.Text)
	env.HTML = cleanText(env.HTML)

	env.MessageID = cleanText(env.MessageID)
	env.InReplyTo = cleanText(env.InReplyTo)
	for i := range env.References {
		env.References[i] = cleanText(env.References[i])
	}

	for i := range env.Attachments {
		a := &env.Attachments[i]
		a.Filename = cleanText(a.Filename)
		a.ContentType = cleanText(a.ContentType)
		a.ContentID = cleanText(a.ContentID)
	}
}

// readHeader checks the top-level header block before the body is decoded.
func readHeader(raw []byte) (textproto.Header, error) {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return header, fmt.Errorf("%w: invalid header block: %v", ErrMalformed, err)
	}
	if header.Len() == 0 {
		return header, fmt.Errorf("%w: no header block", ErrMalformed)
	}

	if header.Has("Content-Type") {
		mh := message.Header{Header: header}
		mediaType, params, err := mh.ContentType()
		if err != nil {
			return header, fmt.Errorf("%w: invalid Content-Type: %v", ErrMalformed, err)
		}
		if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] == "" {
			return header, fmt.Errorf("%w: %s without boundary", ErrMalformed, mediaType)
		}
	}

	return header, nil
}

// msgIDs returns the identifiers of a msg-id list header in "<id>" form.
// A value that does not follow RFC 5322 syntax is kept verbatim as a single identifier.
func msgIDs(h mail.Header, key string) []string {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return nil
	}

	ids, err := h.MsgIDList(key)
	if err != nil || len(ids) == 0 {
		return []string{raw}
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "<"+id+">")
	}
	return out
}

func sender(parsed *enmime.Envelope, envelopeSender string) models.Address {
	if from := addressList(parsed, "From"); len(from) > 0 {
		return from[0]
	}
	if addr, err := models.ParseAddress(envelopeSender); err == nil {
		return addr
	}
	return models.Address{Email: envelopeSender}
}

// addressList returns the parsed addresses of a header. Missing or unparseable headers yield nil.
func addressList(parsed *enmime.Envelope, key string) []models.Address {
	list, err := parsed.AddressList(key)
	if err != nil {
		return nil
	}

	out := make([]models.Address, 0, len(list))
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		out = append(out, models.Address{Name: a.Name, Email: a.Address})
	}
	return out
}

func attachment(part *enmime.Part, n int) models.EnvelopeAttachment {
	filename := part.FileName
	if filename == "" {
		filename = fmt.Sprintf("attachment-%d", n)
	}

	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return models.EnvelopeAttachment{
		Filename:    filename,
		ContentType: contentType,
		ContentID:   part.ContentID,
		Content:     part.Content,
	}
}
