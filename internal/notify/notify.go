// Package notify turns message.created events into per-pilot notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/mq"
	"github.com/racedesk/apiserver/types"
	"github.com/samber/lo"
)

// Notification is one delivery to one recipient.
type Notification struct {
	MessageID   uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Nick        string
	SentAt      time.Time
}

// Sender delivers a single notification.
type Sender func(ctx context.Context, n Notification) error

// UserLookup resolves recipient nicks.
type UserLookup interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
}

type Dispatcher struct {
	users  UserLookup
	send   Sender
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher. A nil send logs every notification.
func NewDispatcher(users UserLookup, send Sender, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{users: users, send: send, logger: logger}
	if d.send == nil {
		d.send = d.logNotification
	}
	return d
}

// Handle dispatches one notification per recipient of a message.created
// envelope. Other event types are ignored. Recipients deleted since the
// event was published are skipped.
func (d *Dispatcher) Handle(ctx context.Context, env mq.Envelope) error {
	if env.Type != mq.EventMessageCreated {
		d.logger.DebugContext(ctx, "ignoring event", "event_type", env.Type)
		return nil
	}

	var event mq.MessageCreated
	if err := env.Decode(&event); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}

	users, err := d.users.FindByIDs(ctx, event.Recipients)
	if err != nil {
		return fmt.Errorf("resolve recipients of %s: %w", event.MessageID, err)
	}
	nicks := lo.SliceToMap(users, func(u types.User) (uuid.UUID, string) {
		return u.ID, u.Nick
	})

	for _, id := range event.Recipients {
		nick, ok := nicks[id]
		if !ok {
			d.logger.WarnContext(ctx, "recipient no longer exists", "message_id", event.MessageID, "recipient_id", id)
			continue
		}
		if err := d.send(ctx, Notification{
			MessageID:   event.MessageID,
			SenderID:    event.SenderID,
			RecipientID: id,
			Nick:        nick,
			SentAt:      event.SentAt,
		}); err != nil {
			return fmt.Errorf("notify %s of %s: %w", id, event.MessageID, err)
		}
	}
	return nil
}

func (d *Dispatcher) logNotification(ctx context.Context, n Notification) error {
	d.logger.InfoContext(ctx, "pilot notified",
		"message_id", n.MessageID,
		"recipient_id", n.RecipientID,
		"nick", n.Nick,
		"sent_at", n.SentAt,
	)
	return nil
}
