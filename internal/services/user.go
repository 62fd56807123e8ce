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
	"github.com/racedesk/apiserver/internal/storage"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/internal/validation"
	"github.com/racedesk/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	List(ctx context.Context, role string, offset, limit int) ([]types.User, int, error)
	ListAll(ctx context.Context) ([]types.User, error)
	Get(ctx context.Context, id uuid.UUID) (types.User, error)
	ExistsByNick(ctx context.Context, nick string) (bool, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserMessageCleaner removes the message data tied to a user.
type UserMessageCleaner interface {
	SentBy(ctx context.Context, senderID uuid.UUID) ([]types.Message, error)
	DeleteLinksForUser(ctx context.Context, userID uuid.UUID) error
	DeleteBySender(ctx context.Context, senderID uuid.UUID) error
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	messages UserMessageCleaner
	archive  UserArchiver
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// UserOption configures a UserService.
type UserOption func(*UserService)

func WithUserArchive(archive UserArchiver) UserOption {
	return func(s *UserService) { s.archive = archive }
}

func WithUserEvents(events EventPublisher) UserOption {
	return func(s *UserService) { s.events = events }
}

func WithUserLogger(logger *slog.Logger) UserOption {
	return func(s *UserService) { s.logger = logger }
}

func NewUserService(repo UserRepository, messages UserMessageCleaner, opts ...UserOption) *UserService {
	s := &UserService{
		repo:     repo,
		messages: messages,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of users. An empty role lists everyone.
func (s *UserService) List(ctx context.Context, role string, page paging.Params) (types.UserList, error) {
	users, total, err := s.repo.List(ctx, strings.TrimSpace(role), page.Offset(), page.Limit)
	if err != nil {
		return types.UserList{}, fmt.Errorf("%w: list users: %w", ErrStorage, err)
	}
	return types.UserList{
		Users: users,
		Page:  page.Page,
		Limit: page.Limit,
		Total: total,
	}, nil
}

// ListAll returns every user, for recipient selection.
func (s *UserService) ListAll(ctx context.Context) ([]types.User, error) {
	users, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", ErrStorage, err)
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (types.User, error) {
	return s.repo.Get(ctx, id)
}

// ExistsByNick reports whether a user with exactly this nick exists.
func (s *UserService) ExistsByNick(ctx context.Context, nick string) (bool, error) {
	exists, err := s.repo.ExistsByNick(ctx, nick)
	if err != nil {
		return false, fmt.Errorf("%w: probe nick: %w", ErrStorage, err)
	}
	return exists, nil
}

// FindByIDs returns the users among ids that exist.
func (s *UserService) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error) {
	users, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: find users: %w", ErrStorage, err)
	}
	return users, nil
}

// Create validates cmd and stores a new user.
func (s *UserService) Create(ctx context.Context, caller auth.Caller, cmd types.CreateUserCommand) (types.User, error) {
	if err := auth.AssertRole(caller, types.RoleRaceDirector); err != nil {
		return types.User{}, err
	}
	if err := validation.Struct(cmd); err != nil {
		return types.User{}, err
	}

	exists, err := s.ExistsByNick(ctx, cmd.Nick)
	if err != nil {
		return types.User{}, err
	}
	if exists {
		return types.User{}, fmt.Errorf("%w: %q", ErrDuplicateNick, cmd.Nick)
	}

	user, err := s.repo.Create(ctx, types.User{
		ID:        uuid.New(),
		Nick:      cmd.Nick,
		Email:     cmd.Email,
		Roles:     cmd.Roles,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fmt.Errorf("%w: %q", ErrDuplicateNick, cmd.Nick)
		}
		return types.User{}, fmt.Errorf("%w: create user: %w", ErrStorage, err)
	}
	return user, nil
}

// Delete removes a user together with the messages they sent and every
// link row that references them. The steps run in order: links, sent
// messages, the user. A failing step stops the deletion and leaves earlier
// steps applied.
func (s *UserService) Delete(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	if err := auth.AssertRole(caller, types.RoleRaceDirector); err != nil {
		return err
	}

	user, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: get user: %w", ErrStorage, err)
	}

	s.archiveUser(ctx, user)

	if err := s.messages.DeleteLinksForUser(ctx, id); err != nil {
		return fmt.Errorf("%w: delete links: %w", ErrCascadeDeleteFailed, err)
	}
	if err := s.messages.DeleteBySender(ctx, id); err != nil {
		return fmt.Errorf("%w: delete sent messages: %w", ErrCascadeDeleteFailed, err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: delete user: %w", ErrCascadeDeleteFailed, err)
	}

	if s.events != nil {
		payload := mq.UserDeleted{UserID: user.ID, Nick: user.Nick}
		if err := s.events.PublishEvent(ctx, mq.ChannelUsersDeleted, mq.EventUserDeleted, payload); err != nil {
			s.logger.WarnContext(ctx, "failed to publish event", "event_type", mq.EventUserDeleted, "error", err)
		}
	}
	return nil
}

func (s *UserService) archiveUser(ctx context.Context, user types.User) {
	if s.archive == nil {
		return
	}
	sent, err := s.messages.SentBy(ctx, user.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "skipping user archive", "user_id", user.ID, "error", err)
		return
	}
	key, err := s.archive.ArchiveUser(ctx, storage.UserSnapshot{
		User:         user,
		SentMessages: sent,
		ArchivedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to archive user", "user_id", user.ID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "archived user", "user_id", user.ID, "key", key)
}
