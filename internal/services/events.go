package services

import (
	"context"

	"github.com/racedesk/apiserver/internal/storage"
)

// EventPublisher sends domain events. Publishing is best-effort: a failure
// is logged and never fails the operation that produced the event.
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel, eventType string, payload any) error
}

// UserArchiver stores a snapshot of a user before deletion.
type UserArchiver interface {
	ArchiveUser(ctx context.Context, snapshot storage.UserSnapshot) (string, error)
}

// ErrorReporter forwards errors that need operator attention, such as
// messages orphaned by a failed compensation.
type ErrorReporter func(ctx context.Context, err error)

func noopReporter(context.Context, error) {}
