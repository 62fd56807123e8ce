// Package memory is an in-process implementation of the user and message
// repositories. It mirrors the relational constraints of the postgres
// schema and lets tests inject failures per operation.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/types"
)

// Operation names accepted by Store.Fail.
const (
	OpUserCreate            = "users.create"
	OpUserDelete            = "users.delete"
	OpUserFindByIDs         = "users.find_by_ids"
	OpMessageCreate         = "messages.create"
	OpMessageAddRecipients  = "messages.add_recipients"
	OpMessageCreateAtomic   = "messages.create_with_recipients"
	OpMessageDelete         = "messages.delete"
	OpMessageIDsByRecipient = "messages.ids_for_recipient"
	OpMessageList           = "messages.list"
	OpMessageDeleteLinks    = "messages.delete_links"
	OpMessageDeleteBySender = "messages.delete_by_sender"
)

// ErrForeignKey mirrors a foreign key violation in the relational schema.
var ErrForeignKey = errors.New("foreign key violation")

type messageRow struct {
	msg types.Message
	seq int64
}

// Store holds users, messages and links behind one lock.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]types.User
	messages map[uuid.UUID]messageRow
	links    []types.MessageRecipient
	seq      int64
	faults   map[string]error
	calls    map[string]int

	Users    *UserRepository
	Messages *MessageRepository
}

func New() *Store {
	s := &Store{
		users:    make(map[uuid.UUID]types.User),
		messages: make(map[uuid.UUID]messageRow),
		faults:   make(map[string]error),
		calls:    make(map[string]int),
	}
	s.Users = &UserRepository{s: s}
	s.Messages = &MessageRepository{s: s}
	return s
}

// Fail makes every later call of op return err. A nil err clears the fault.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// Calls reports how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// enter records a call of op and returns its injected fault. Callers hold mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.faults[op]
}

func (s *Store) linksOf(messageID uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0)
	for _, link := range s.links {
		if link.MessageID == messageID {
			ids = append(ids, link.RecipientID)
		}
	}
	return ids
}

func (s *Store) withSender(msg types.Message) types.Message {
	if sender, ok := s.users[msg.SenderID]; ok {
		msg.SenderNick = sender.Nick
	}
	return msg
}

func (s *Store) insertMessage(msg types.Message) error {
	if _, ok := s.users[msg.SenderID]; !ok {
		return fmt.Errorf("%w: sender %s", ErrForeignKey, msg.SenderID)
	}
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("%w: message %s", store.ErrConflict, msg.ID)
	}
	if msg.Content == "" {
		return errors.New("content must not be empty")
	}
	s.seq++
	msg.SenderNick = ""
	msg.Recipients = nil
	s.messages[msg.ID] = messageRow{msg: msg, seq: s.seq}
	return nil
}

func (s *Store) checkLinks(links []types.MessageRecipient) error {
	seen := make(map[types.MessageRecipient]struct{}, len(links))
	for _, link := range links {
		if _, ok := s.messages[link.MessageID]; !ok {
			return fmt.Errorf("%w: message %s", ErrForeignKey, link.MessageID)
		}
		if _, ok := s.users[link.RecipientID]; !ok {
			return fmt.Errorf("%w: recipient %s", ErrForeignKey, link.RecipientID)
		}
		if _, dup := seen[link]; dup || slices.Contains(s.links, link) {
			return fmt.Errorf("%w: link %s/%s", store.ErrConflict, link.MessageID, link.RecipientID)
		}
		seen[link] = struct{}{}
	}
	return nil
}

func (s *Store) deleteMessage(id uuid.UUID) {
	delete(s.messages, id)
	s.links = slices.DeleteFunc(s.links, func(link types.MessageRecipient) bool {
		return link.MessageID == id
	})
}

// page sorts rows by sort with seq as tie-break and slices one page.
func page(rows []messageRow, sort paging.Sort, p paging.Params) ([]types.Message, error) {
	var compare func(a, b messageRow) int
	switch sort.Field {
	case "sent_at":
		compare = func(a, b messageRow) int { return a.msg.SentAt.Compare(b.msg.SentAt) }
	case "content":
		compare = func(a, b messageRow) int { return cmp.Compare(a.msg.Content, b.msg.Content) }
	case "sender_id":
		compare = func(a, b messageRow) int { return cmp.Compare(a.msg.SenderID.String(), b.msg.SenderID.String()) }
	default:
		return nil, fmt.Errorf("%w: unknown field %q", paging.ErrInvalidSort, sort.Field)
	}

	slices.SortFunc(rows, func(a, b messageRow) int {
		c := compare(a, b)
		if c == 0 {
			c = cmp.Compare(a.seq, b.seq)
		}
		if sort.Desc {
			return -c
		}
		return c
	})

	from := min(max(p.Offset(), 0), len(rows))
	to := min(from+p.Limit, len(rows))
	out := make([]types.Message, 0, to-from)
	for _, row := range rows[from:to] {
		out = append(out, row.msg)
	}
	return out, nil
}
