package mq

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channels carrying domain events.
const (
	ChannelMessagesCreated = "messages.created"
	ChannelUsersDeleted    = "users.deleted"
)

// Event types.
const (
	EventMessageCreated = "message.created"
	EventUserDeleted    = "user.deleted"
)

// AttrEventType is the attribute holding the event type.
const AttrEventType = "event_type"

// Envelope is the wire format of every event.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// MessageCreated is published after a message and its links are stored.
type MessageCreated struct {
	MessageID  uuid.UUID   `json:"message_id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	Recipients []uuid.UUID `json:"recipients"`
	SentAt     time.Time   `json:"sent_at"`
}

// UserDeleted is published after a user and their messages are removed.
type UserDeleted struct {
	UserID uuid.UUID `json:"user_id"`
	Nick   string    `json:"nick"`
}
