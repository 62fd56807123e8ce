package types

import (
	"time"

	"github.com/google/uuid"
)

// Message is a piece of text sent by a race director to one or more users.
// A message and its recipient links are created together and the recipient
// set never changes afterwards.
type Message struct {
	// ID is the unique identifier of the message.
	ID uuid.UUID `json:"id" db:"id"`

	// Content is the non-empty message body.
	Content string `json:"content" db:"content"`

	// SenderID identifies the user who sent the message.
	SenderID uuid.UUID `json:"sender_id" db:"sender_id"`

	// SenderNick is the sender's display name resolved at read time.
	// It is empty on write paths.
	SenderNick string `json:"sender_nick,omitempty" db:"sender_nick"`

	// SentAt is the server timestamp captured when the message was created.
	SentAt time.Time `json:"sent_at" db:"sent_at"`

	// Recipients lists the users the message was addressed to.
	// List views omit it.
	Recipients []uuid.UUID `json:"recipients,omitempty"`
}

// MessageRecipient links one message to one recipient.
// Primary key: (MessageID, RecipientID)
type MessageRecipient struct {
	MessageID   uuid.UUID `json:"message_id" db:"message_id"`
	RecipientID uuid.UUID `json:"recipient_id" db:"recipient_id"`
}

// CreateMessageCommand carries the fields accepted when sending a message.
// Identifiers stay in their wire form until the message service resolves them.
type CreateMessageCommand struct {
	Content      string   `json:"content" validate:"required"`
	SenderID     string   `json:"sender_id" validate:"required,uuid"`
	RecipientIDs []string `json:"recipient_ids" validate:"required,min=1,dive,uuid"`
}

// MessageList is the paginated message listing payload.
type MessageList struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	Total    int       `json:"total"`
	Pages    int       `json:"pages"`
}
