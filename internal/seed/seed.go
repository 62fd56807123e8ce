// Package seed replaces all messages with demo fixtures.
//
// Both modes are destructive: every existing message and link is deleted
// before the fixtures are written. They exist for demos and manual
// testing, never for production data.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/types"
)

// DefaultAnchor is the nick cycle mode starts from.
const DefaultAnchor = "Arek"

// MinUsers is the number of users cycle mode needs.
const MinUsers = 3

// ErrAnchorNotFound is returned when no user carries the anchor nick.
var ErrAnchorNotFound = errors.New("anchor user not found")

// Phrases is the pool fan-out messages draw their text from.
var Phrases = []string{
	"Good morning! How are you today?",
	"I hope everything is fine on your side.",
	"I would like to invite you to a meeting next week.",
	"Can you send me the latest data for the project?",
	"Thanks for your help yesterday!",
	"Do you remember our meeting tomorrow?",
	"I have just finished working on the new module.",
	"I need your opinion on my solution.",
	"I managed to solve the problem we talked about.",
	"Can we move our conversation to later?",
}

// UserStore is the user access the generator needs.
type UserStore interface {
	ListAll(ctx context.Context) ([]types.User, error)
	GetByNick(ctx context.Context, nick string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// MessageStore swaps the whole message set in one step.
type MessageStore interface {
	ReplaceAll(ctx context.Context, msgs []types.Message, links []types.MessageRecipient) error
}

// Row describes one generated message.
type Row struct {
	Sender    string
	Recipient string
	Content   string
	SentAt    time.Time
}

// Result summarises a run.
type Result struct {
	Mode         string
	CreatedUsers []string
	Skipped      []string
	Rows         []Row
}

// Generator writes demo fixtures.
type Generator struct {
	users    UserStore
	messages MessageStore
	rand     *rand.Rand
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the source used for fan-out recipients, delays and phrases.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rand = r }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

func New(users UserStore, messages MessageStore, opts ...Option) *Generator {
	g := &Generator{
		users:    users,
		messages: messages,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type scripted struct {
	from, to int
	hoursAgo int
	content  string
}

// cycleScript is A→B, B→C, C→A, two messages each, oldest first.
var cycleScript = []scripted{
	{from: 0, to: 1, hoursAgo: 6, content: "Welcome to the paddock, briefing starts at 9."},
	{from: 0, to: 1, hoursAgo: 5, content: "Please confirm your tyre allocation."},
	{from: 1, to: 2, hoursAgo: 4, content: "Track walk after the drivers' parade?"},
	{from: 1, to: 2, hoursAgo: 3, content: "Pit lane opens in ten minutes."},
	{from: 2, to: 0, hoursAgo: 2, content: "Yellow flag in sector two, keep it tidy."},
	{from: 2, to: 0, hoursAgo: 1, content: "Debrief in the race control room after the session."},
}

// Cycle writes a fixed six message script between the anchor A and the
// first two other users B and C. Pilots named "Pilot N" are created first
// when fewer than MinUsers exist.
func (g *Generator) Cycle(ctx context.Context, anchorNick string) (Result, error) {
	if anchorNick == "" {
		anchorNick = DefaultAnchor
	}
	result := Result{Mode: "cycle"}

	users, err := g.users.ListAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}
	created, err := g.ensureUsers(ctx, users)
	if err != nil {
		return Result{}, err
	}
	result.CreatedUsers = nicks(created)
	users = append(users, created...)

	anchor, err := g.users.GetByNick(ctx, anchorNick)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %q", ErrAnchorNotFound, anchorNick)
		}
		return Result{}, fmt.Errorf("find anchor: %w", err)
	}

	others := slices.DeleteFunc(slices.Clone(users), func(u types.User) bool { return u.ID == anchor.ID })
	cast := []types.User{anchor, others[0], others[1]}

	now := g.now().UTC().Truncate(time.Microsecond)
	msgs := make([]types.Message, 0, len(cycleScript))
	links := make([]types.MessageRecipient, 0, len(cycleScript))
	for _, line := range cycleScript {
		from, to := cast[line.from], cast[line.to]
		msg := types.Message{
			ID:       uuid.New(),
			Content:  line.content,
			SenderID: from.ID,
			SentAt:   now.Add(-time.Duration(line.hoursAgo) * time.Hour),
		}
		msgs = append(msgs, msg)
		links = append(links, types.MessageRecipient{MessageID: msg.ID, RecipientID: to.ID})
		result.Rows = append(result.Rows, Row{Sender: from.Nick, Recipient: to.Nick, Content: msg.Content, SentAt: msg.SentAt})
	}

	if err := g.messages.ReplaceAll(ctx, msgs, links); err != nil {
		return Result{}, fmt.Errorf("replace messages: %w", err)
	}
	g.logger.InfoContext(ctx, "seeded message cycle", "anchor", anchor.Nick, "messages", len(msgs))
	return result, nil
}

// FanOut writes two messages from every user to randomly chosen other
// users, sent within the last 24 hours.
func (g *Generator) FanOut(ctx context.Context) (Result, error) {
	result := Result{Mode: "fanout"}

	users, err := g.users.ListAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return Result{}, errors.New("no users to generate messages for")
	}

	now := g.now().UTC().Truncate(time.Microsecond)
	msgs := make([]types.Message, 0, len(users)*2)
	links := make([]types.MessageRecipient, 0, len(users)*2)
	for _, sender := range users {
		recipients := slices.DeleteFunc(slices.Clone(users), func(u types.User) bool { return u.ID == sender.ID })
		if len(recipients) == 0 {
			g.logger.InfoContext(ctx, "no other users, skipping", "nick", sender.Nick)
			result.Skipped = append(result.Skipped, sender.Nick)
			continue
		}

		for n := 1; n <= 2; n++ {
			recipient := recipients[g.rand.IntN(len(recipients))]
			msg := types.Message{
				ID:       uuid.New(),
				Content:  fmt.Sprintf("Message #%d from %s to %s: %s", n, sender.Nick, recipient.Nick, Phrases[g.rand.IntN(len(Phrases))]),
				SenderID: sender.ID,
				SentAt:   now.Add(-time.Duration(g.rand.IntN(24)) * time.Hour),
			}
			msgs = append(msgs, msg)
			links = append(links, types.MessageRecipient{MessageID: msg.ID, RecipientID: recipient.ID})
			result.Rows = append(result.Rows, Row{Sender: sender.Nick, Recipient: recipient.Nick, Content: msg.Content, SentAt: msg.SentAt})
		}
	}

	if err := g.messages.ReplaceAll(ctx, msgs, links); err != nil {
		return Result{}, fmt.Errorf("replace messages: %w", err)
	}
	g.logger.InfoContext(ctx, "seeded fan-out messages", "users", len(users), "messages", len(msgs))
	return result, nil
}

func (g *Generator) ensureUsers(ctx context.Context, existing []types.User) ([]types.User, error) {
	taken := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		taken[u.Nick] = struct{}{}
	}

	var created []types.User
	for n := 1; len(existing)+len(created) < MinUsers; n++ {
		nick := fmt.Sprintf("Pilot %d", n)
		if _, ok := taken[nick]; ok {
			continue
		}
		user, err := g.users.Create(ctx, types.User{
			ID:        uuid.New(),
			Nick:      nick,
			Roles:     types.RolePilot,
			CreatedAt: g.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("create %q: %w", nick, err)
		}
		created = append(created, user)
	}
	return created, nil
}

func nicks(users []types.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Nick
	}
	return out
}
