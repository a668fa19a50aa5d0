package outbound

import (
	"context"
	"time"

	"github.com/chitbox/chitbox/internal/delivery"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
)

// fileSentCopy keeps a read copy of a local user's message in their sent folder.
// Failures are logged; the entry stays queued either way.
func (q *Queue) fileSentCopy(ctx context.Context, e *models.OutboundEmail) {
	if q.filer == nil || e.UserID == nil {
		return
	}
	userID := *e.UserID

	msg, err := q.filer.File(ctx, userID, models.FolderSent, sentEnvelope(e, q.now()), delivery.Flags{Read: true, Sent: true})
	if err != nil {
		log.ErrorContext(ctx).Err(err).Str("outbound_id", e.ID).Msg("failed to file sent copy")
		return
	}

	delivery.Dispatch([]delivery.Event{
		delivery.NewEvent(delivery.EventMessageSent, userID, models.FolderSent, msg),
	}, q.notifier)
}

func sentEnvelope(e *models.OutboundEmail, now time.Time) *models.Envelope {
	to, err := models.ParseAddress(e.To)
	if err != nil {
		to = models.Address{Email: e.To}
	}

	attachments := make([]models.EnvelopeAttachment, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		attachments = append(attachments, models.EnvelopeAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	return &models.Envelope{
		From:        e.From,
		To:          []models.Address{to},
		Cc:          e.Cc,
		Bcc:         e.Bcc,
		Subject:     e.Subject,
		Text:        e.BodyText,
		HTML:        e.BodyHTML,
		Attachments: attachments,
		MessageID:   e.MessageID,
		Date:        now,
	}
}
