package mime

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/chitbox/chitbox/internal/models"
)

const mailer = "ChitBox"

// Composer builds RFC 5322 messages for relaying and for IMAP FETCH.
type Composer struct {
	domain         string
	abuseContact   string
	unsubscribeURL string
	now            func() time.Time
}

// NewComposer creates a Composer. domain is the right-hand side of generated Message-IDs.
// abuseContact and unsubscribeURL are optional.
func NewComposer(domain, abuseContact, unsubscribeURL string) *Composer {
	if domain == "" {
		domain = "localhost"
	}
	return &Composer{
		domain:         domain,
		abuseContact:   abuseContact,
		unsubscribeURL: unsubscribeURL,
		now:            time.Now,
	}
}

// NewMessageID returns a fresh "<uuid@domain>" identifier.
func (c *Composer) NewMessageID() string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), c.domain)
}

// Outbound renders a queue entry. The entry must carry a MessageID.
func (c *Composer) Outbound(e *models.OutboundEmail) ([]byte, error) {
	if e.MessageID == "" {
		return nil, fmt.Errorf("outbound email %s has no message id", e.ID)
	}

	b := enmime.Builder().
		From(e.From.Name, e.From.Email).
		To("", e.To).
		CCAddrs(models.MailAddresses(e.Cc)).
		BCCAddrs(models.MailAddresses(e.Bcc)).
		Subject(e.Subject).
		Date(c.now()).
		Header("X-Mailer", mailer)

	if c.abuseContact != "" {
		b = b.Header("X-Abuse-Contact", c.abuseContact)
	}
	if c.unsubscribeURL != "" {
		b = b.Header("List-Unsubscribe", "<"+c.unsubscribeURL+">")
	}

	b = withBodies(b, e.BodyText, e.BodyHTML)
	for _, a := range e.Attachments {
		b = b.AddAttachment(a.Content, contentTypeOrDefault(a.ContentType), a.Filename)
	}

	return encode(b, e.MessageID)
}

// StoredAttachment is an attachment row together with its payload.
type StoredAttachment struct {
	models.Attachment
	Content []byte
}

// Stored renders a mailbox message so that IMAP clients can fetch it.
func (c *Composer) Stored(m *models.Message, attachments []StoredAttachment) ([]byte, error) {
	from := m.From
	if from.Email == "" {
		from = models.Address{Name: "Mail Delivery System", Email: "mailer-daemon@" + c.domain}
	}

	subject := m.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	date := m.CreatedAt
	if m.SentAt != nil {
		date = *m.SentAt
	}

	messageID := m.MessageIDHeader
	if messageID == "" {
		messageID = fmt.Sprintf("<%s@%s>", m.ID, c.domain)
	}

	b := enmime.Builder().
		From(from.Name, from.Email).
		ToAddrs(models.MailAddresses(m.To)).
		CCAddrs(models.MailAddresses(m.Cc)).
		BCCAddrs(models.MailAddresses(m.Bcc)).
		Subject(subject).
		Date(date)

	if m.InReplyTo != "" {
		b = b.Header("In-Reply-To", m.InReplyTo)
	}

	b = withBodies(b, m.BodyText, m.BodyHTML)
	for _, a := range attachments {
		ct := contentTypeOrDefault(a.MimeType)
		if a.ContentID != "" {
			b = b.AddInline(a.Content, ct, a.OriginalFilename, a.ContentID)
			continue
		}
		b = b.AddAttachment(a.Content, ct, a.OriginalFilename)
	}

	return encode(b, messageID)
}

// TextToHTML renders plain text as escaped HTML with <br> line breaks.
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = html.EscapeString(line)
	}
	return strings.Join(lines, "<br>")
}

func withBodies(b enmime.MailBuilder, text, htmlBody string) enmime.MailBuilder {
	if text != "" {
		b = b.Text([]byte(text))
	}
	if htmlBody != "" {
		b = b.HTML([]byte(htmlBody))
	}
	if text == "" && htmlBody == "" {
		b = b.Text([]byte{})
	}
	return b
}

func encode(b enmime.MailBuilder, messageID string) ([]byte, error) {
	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	part.Header.Set("Message-ID", messageID)

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
