package delivery

import (
	"encoding/json"

	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
)

type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventMessageSent     EventType = "message.sent"
)

// Event is published to the owning user's notification channel.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"-"`
	Folder    string    `json:"folder"`
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	UID       int64     `json:"uid"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
}

// NewEvent describes a message that was just filed.
func NewEvent(t EventType, userID string, folder models.FolderType, msg *models.Message) Event {
	return Event{
		Type:      t,
		UserID:    userID,
		Folder:    folder.DisplayName(),
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		UID:       msg.UID,
		From:      msg.From.Email,
		Subject:   msg.Subject,
	}
}

// Notifier publishes a payload to all live connections of a user.
type Notifier interface {
	Send(userID string, msg []byte)
}

// Dispatch publishes every event to its user. Delivery is best effort.
func Dispatch(events []Event, notifier Notifier) {
	if notifier == nil {
		return
	}

	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal event")
			continue
		}
		notifier.Send(event.UserID, payload)
	}
}
