package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/internal/mq"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/internal/validation"
	"github.com/racedesk/apiserver/types"
	"github.com/samber/lo"
)

// MessageRepository defines persistence operations for messages and links.
type MessageRepository interface {
	Create(ctx context.Context, msg types.Message) error
	AddRecipients(ctx context.Context, links []types.MessageRecipient) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (types.Message, error)
	MessageIDsForRecipient(ctx context.Context, recipientID uuid.UUID) ([]uuid.UUID, error)
	ListAll(ctx context.Context, sort paging.Sort, page paging.Params) ([]types.Message, int, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID, sort paging.Sort, page paging.Params) ([]types.Message, int, error)
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, sort paging.Sort, page paging.Params) ([]types.Message, int, error)
}

// AtomicMessageWriter is implemented by repositories able to write a
// message and its links as one unit.
type AtomicMessageWriter interface {
	CreateWithRecipients(ctx context.Context, msg types.Message, links []types.MessageRecipient) error
}

// UserLookup resolves users referenced by a message.
type UserLookup interface {
	Get(ctx context.Context, id uuid.UUID) (types.User, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
}

// ReadStrategy selects how recipient-filtered listings are queried.
type ReadStrategy string

const (
	// StrategyPrefilter collects the recipient's message ids first and then
	// lists messages by id.
	StrategyPrefilter ReadStrategy = "prefilter"

	// StrategyJoin filters through a join on the link table.
	StrategyJoin ReadStrategy = "join"
)

// MessageSortFields are the fields a listing may be sorted by.
var MessageSortFields = []string{"sent_at", "content", "sender_id"}

// DefaultMessageSort is newest first.
var DefaultMessageSort = paging.Sort{Field: "sent_at", Desc: true}

// MessageQuery describes one page of a message listing.
type MessageQuery struct {
	Page        paging.Params
	Sort        paging.Sort
	RecipientID *uuid.UUID
}

// MessageService encapsulates message use-cases.
type MessageService struct {
	messages MessageRepository
	users    UserLookup
	events   EventPublisher
	report   ErrorReporter
	logger   *slog.Logger
	now      func() time.Time
	atomic   bool
	strategy ReadStrategy
}

// MessageOption configures a MessageService.
type MessageOption func(*MessageService)

// WithAtomicCreate toggles single-transaction creation for repositories
// that implement AtomicMessageWriter.
func WithAtomicCreate(enabled bool) MessageOption {
	return func(s *MessageService) { s.atomic = enabled }
}

func WithReadStrategy(strategy ReadStrategy) MessageOption {
	return func(s *MessageService) { s.strategy = strategy }
}

func WithMessageEvents(events EventPublisher) MessageOption {
	return func(s *MessageService) { s.events = events }
}

func WithErrorReporter(report ErrorReporter) MessageOption {
	return func(s *MessageService) { s.report = report }
}

func WithMessageLogger(logger *slog.Logger) MessageOption {
	return func(s *MessageService) { s.logger = logger }
}

// WithClock overrides the source of sent_at timestamps.
func WithClock(now func() time.Time) MessageOption {
	return func(s *MessageService) { s.now = now }
}

func NewMessageService(messages MessageRepository, users UserLookup, opts ...MessageOption) *MessageService {
	s := &MessageService{
		messages: messages,
		users:    users,
		report:   noopReporter,
		logger:   slog.Default(),
		now:      time.Now,
		atomic:   true,
		strategy: StrategyPrefilter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a message addressed to every recipient in cmd.
//
// Recipient ids are deduplicated keeping their first occurrence. When the
// repository supports it the message and its links are written atomically;
// otherwise the links are written after the message and the message is
// deleted again if that fails.
func (s *MessageService) Create(ctx context.Context, caller auth.Caller, cmd types.CreateMessageCommand) (types.Message, error) {
	if err := auth.AssertRole(caller, types.RoleRaceDirector); err != nil {
		return types.Message{}, err
	}
	if cmd.Content == "" {
		return types.Message{}, validation.Invalid("content", "is required")
	}

	recipients, err := parseRecipients(cmd.RecipientIDs)
	if err != nil {
		return types.Message{}, err
	}
	senderID, err := uuid.Parse(strings.TrimSpace(cmd.SenderID))
	if err != nil {
		return types.Message{}, fmt.Errorf("%w: %q is not a valid id", ErrInvalidSender, cmd.SenderID)
	}

	if err := s.resolveRecipients(ctx, recipients); err != nil {
		return types.Message{}, err
	}
	sender, err := s.users.Get(ctx, senderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Message{}, fmt.Errorf("%w: %s does not exist", ErrInvalidSender, senderID)
		}
		return types.Message{}, fmt.Errorf("%w: resolve sender: %w", ErrStorage, err)
	}
	if sender.Roles != types.RoleRaceDirector {
		return types.Message{}, fmt.Errorf("%w: %s is not a %s", ErrInvalidSender, senderID, types.RoleRaceDirector)
	}

	msg := types.Message{
		ID:       uuid.New(),
		Content:  cmd.Content,
		SenderID: senderID,
		SentAt:   s.now().UTC().Truncate(time.Microsecond),
	}
	links := lo.Map(recipients, func(id uuid.UUID, _ int) types.MessageRecipient {
		return types.MessageRecipient{MessageID: msg.ID, RecipientID: id}
	})

	if writer, ok := s.messages.(AtomicMessageWriter); ok && s.atomic {
		if err := writer.CreateWithRecipients(ctx, msg, links); err != nil {
			return types.Message{}, fmt.Errorf("%w: %w", ErrMessageCreateFailed, err)
		}
	} else if err := s.createCompensating(ctx, msg, links); err != nil {
		return types.Message{}, err
	}

	msg.Recipients = recipients
	s.publish(ctx, mq.ChannelMessagesCreated, mq.EventMessageCreated, mq.MessageCreated{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		Recipients: msg.Recipients,
		SentAt:     msg.SentAt,
	})
	return msg, nil
}

func (s *MessageService) createCompensating(ctx context.Context, msg types.Message, links []types.MessageRecipient) error {
	if err := s.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMessageCreateFailed, err)
	}

	linkErr := s.messages.AddRecipients(ctx, links)
	if linkErr == nil {
		return nil
	}

	if err := s.messages.Delete(ctx, msg.ID); err != nil {
		orphan := fmt.Errorf("orphan message %s: compensation failed: %w", msg.ID, err)
		s.logger.ErrorContext(ctx, "failed to remove message after recipient assignment failed",
			"message_id", msg.ID,
			"error", err,
			"cause", linkErr,
		)
		s.report(ctx, orphan)
	}
	return fmt.Errorf("%w: %w", ErrRecipientAssignmentFailed, linkErr)
}

func (s *MessageService) resolveRecipients(ctx context.Context, ids []uuid.UUID) error {
	found, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: resolve recipients: %w", ErrStorage, err)
	}
	if len(found) == len(ids) {
		return nil
	}

	known := lo.Map(found, func(user types.User, _ int) uuid.UUID { return user.ID })
	missing := lo.Without(ids, known...)
	return fmt.Errorf("%w: unknown user(s) %s", ErrInvalidRecipients, strings.Join(lo.Map(missing, func(id uuid.UUID, _ int) string {
		return id.String()
	}), ", "))
}

// Get returns one message with its recipient list.
func (s *MessageService) Get(ctx context.Context, id uuid.UUID) (types.Message, error) {
	return s.messages.Get(ctx, id)
}

// List returns one page of messages, optionally restricted to a recipient.
func (s *MessageService) List(ctx context.Context, q MessageQuery) (types.MessageList, error) {
	if q.Sort.Field == "" {
		q.Sort = DefaultMessageSort
	}

	var (
		msgs  []types.Message
		total int
		err   error
	)
	switch {
	case q.RecipientID == nil:
		msgs, total, err = s.messages.ListAll(ctx, q.Sort, q.Page)
	case s.strategy == StrategyJoin:
		msgs, total, err = s.messages.ListForRecipient(ctx, *q.RecipientID, q.Sort, q.Page)
	default:
		var ids []uuid.UUID
		ids, err = s.messages.MessageIDsForRecipient(ctx, *q.RecipientID)
		if err != nil {
			return types.MessageList{}, fmt.Errorf("%w: list recipient message ids: %w", ErrStorage, err)
		}
		if len(ids) == 0 {
			return emptyMessageList(q.Page), nil
		}
		msgs, total, err = s.messages.ListByIDs(ctx, ids, q.Sort, q.Page)
	}
	if err != nil {
		if errors.Is(err, paging.ErrInvalidSort) {
			return types.MessageList{}, err
		}
		return types.MessageList{}, fmt.Errorf("%w: list messages: %w", ErrStorage, err)
	}

	if msgs == nil {
		msgs = []types.Message{}
	}
	return types.MessageList{
		Messages: msgs,
		Page:     q.Page.Page,
		Limit:    q.Page.Limit,
		Total:    total,
		Pages:    paging.PageCount(total, q.Page.Limit),
	}, nil
}

func (s *MessageService) publish(ctx context.Context, channel, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, channel, eventType, payload); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "event_type", eventType, "error", err)
	}
}

func emptyMessageList(page paging.Params) types.MessageList {
	return types.MessageList{
		Messages: []types.Message{},
		Page:     page.Page,
		Limit:    page.Limit,
	}
}

// parseRecipients parses and deduplicates ids, keeping first occurrences.
func parseRecipients(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidRecipients)
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid id", ErrInvalidRecipients, value)
		}
		ids = append(ids, id)
	}
	return lo.Uniq(ids), nil
}
