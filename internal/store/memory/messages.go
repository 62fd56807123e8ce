package memory

import (
	"bytes"
	"context"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/types"
)

// MessageRepository is the in-memory message repository.
type MessageRepository struct {
	s *Store
}

func (r *MessageRepository) Create(_ context.Context, msg types.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageCreate); err != nil {
		return err
	}
	return r.s.insertMessage(msg)
}

func (r *MessageRepository) AddRecipients(_ context.Context, links []types.MessageRecipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageAddRecipients); err != nil {
		return err
	}
	if err := r.s.checkLinks(links); err != nil {
		return err
	}
	r.s.links = append(r.s.links, links...)
	return nil
}

// CreateWithRecipients writes msg and links under a single lock; nothing is
// kept when any part fails.
func (r *MessageRepository) CreateWithRecipients(_ context.Context, msg types.Message, links []types.MessageRecipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageCreateAtomic); err != nil {
		return err
	}
	if err := r.s.insertMessage(msg); err != nil {
		return err
	}
	if err := r.s.checkLinks(links); err != nil {
		delete(r.s.messages, msg.ID)
		return err
	}
	r.s.links = append(r.s.links, links...)
	return nil
}

func (r *MessageRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageDelete); err != nil {
		return err
	}
	if _, ok := r.s.messages[id]; !ok {
		return store.ErrNotFound
	}
	r.s.deleteMessage(id)
	return nil
}

func (r *MessageRepository) Get(_ context.Context, id uuid.UUID) (types.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.messages[id]
	if !ok {
		return types.Message{}, store.ErrNotFound
	}
	msg := r.s.withSender(row.msg)
	msg.Recipients = r.s.linksOf(id)
	slices.SortFunc(msg.Recipients, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return msg, nil
}

func (r *MessageRepository) MessageIDsForRecipient(_ context.Context, recipientID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageIDsByRecipient); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0)
	for _, link := range r.s.links {
		if link.RecipientID == recipientID {
			ids = append(ids, link.MessageID)
		}
	}
	return ids, nil
}

func (r *MessageRepository) ListAll(_ context.Context, sort paging.Sort, p paging.Params) ([]types.Message, int, error) {
	return r.list(sort, p, func(messageRow) bool { return true })
}

func (r *MessageRepository) ListByIDs(_ context.Context, ids []uuid.UUID, sort paging.Sort, p paging.Params) ([]types.Message, int, error) {
	wanted := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	return r.list(sort, p, func(row messageRow) bool {
		_, ok := wanted[row.msg.ID]
		return ok
	})
}

func (r *MessageRepository) ListForRecipient(_ context.Context, recipientID uuid.UUID, sort paging.Sort, p paging.Params) ([]types.Message, int, error) {
	return r.list(sort, p, func(row messageRow) bool {
		return slices.Contains(r.s.linksOf(row.msg.ID), recipientID)
	})
}

func (r *MessageRepository) SentBy(_ context.Context, senderID uuid.UUID) ([]types.Message, error) {
	msgs, _, err := r.list(
		paging.Sort{Field: "sent_at"},
		paging.Params{Page: 1, Limit: math.MaxInt32},
		func(row messageRow) bool { return row.msg.SenderID == senderID },
	)
	return msgs, err
}

func (r *MessageRepository) DeleteLinksForUser(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageDeleteLinks); err != nil {
		return err
	}
	r.s.links = slices.DeleteFunc(r.s.links, func(link types.MessageRecipient) bool {
		return link.RecipientID == userID || r.s.messages[link.MessageID].msg.SenderID == userID
	})
	return nil
}

func (r *MessageRepository) DeleteBySender(_ context.Context, senderID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageDeleteBySender); err != nil {
		return err
	}
	for id, row := range r.s.messages {
		if row.msg.SenderID == senderID {
			r.s.deleteMessage(id)
		}
	}
	return nil
}

func (r *MessageRepository) ReplaceAll(_ context.Context, msgs []types.Message, links []types.MessageRecipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	savedMessages, savedLinks, savedSeq := r.s.messages, r.s.links, r.s.seq
	r.s.messages = make(map[uuid.UUID]messageRow, len(msgs))
	r.s.links = nil

	restore := func(err error) error {
		r.s.messages, r.s.links, r.s.seq = savedMessages, savedLinks, savedSeq
		return err
	}
	for _, msg := range msgs {
		if err := r.s.insertMessage(msg); err != nil {
			return restore(err)
		}
	}
	if err := r.s.checkLinks(links); err != nil {
		return restore(err)
	}
	r.s.links = append(r.s.links, links...)
	return nil
}

func (r *MessageRepository) list(sort paging.Sort, p paging.Params, keep func(messageRow) bool) ([]types.Message, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpMessageList); err != nil {
		return nil, 0, err
	}

	rows := make([]messageRow, 0)
	for _, row := range r.s.messages {
		if keep(row) {
			rows = append(rows, row)
		}
	}

	msgs, err := page(rows, sort, p)
	if err != nil {
		return nil, 0, err
	}
	for i := range msgs {
		msgs[i] = r.s.withSender(msgs[i])
	}
	return msgs, len(rows), nil
}
