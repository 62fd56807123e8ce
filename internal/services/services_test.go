package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/internal/store/memory"
	"github.com/racedesk/apiserver/types"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

var director = auth.Caller{ID: uuid.New(), Nick: "director", Role: types.RoleRaceDirector}

type recordedEvent struct {
	channel   string
	eventType string
	payload   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, channel, eventType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, recordedEvent{channel: channel, eventType: eventType, payload: payload})
	return nil
}

type fixture struct {
	store    *memory.Store
	users    *UserService
	messages *MessageService
}

func newFixture(t *testing.T, opts ...MessageOption) fixture {
	t.Helper()
	s := memory.New()
	return fixture{
		store:    s,
		users:    NewUserService(s.Users, s.Messages),
		messages: NewMessageService(s.Messages, s.Users, opts...),
	}
}

func (f fixture) user(t *testing.T, nick string, role types.Role) types.User {
	t.Helper()
	user, err := f.users.Create(t.Context(), director, types.CreateUserCommand{Nick: nick, Roles: role})
	require.NoError(t, err)
	return user
}

func (f fixture) send(t *testing.T, content string, sender types.User, recipients ...types.User) types.Message {
	t.Helper()
	msg, err := f.messages.Create(t.Context(), director, command(content, sender, recipients...))
	require.NoError(t, err)
	return msg
}

func command(content string, sender types.User, recipients ...types.User) types.CreateMessageCommand {
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.ID.String()
	}
	return types.CreateMessageCommand{Content: content, SenderID: sender.ID.String(), RecipientIDs: ids}
}
