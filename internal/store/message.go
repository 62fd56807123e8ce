package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/types"
)

// MessageRepository handles persistence for messages and their recipient links.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// sortColumns maps the public sort fields onto columns.
var sortColumns = map[string]string{
	"sent_at":   "m.sent_at",
	"content":   "m.content",
	"sender_id": "m.sender_id",
}

const messageColumns = `m.id, m.content, m.sender_id, COALESCE(u.nick, ''), m.sent_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *MessageRepository) Create(ctx context.Context, msg types.Message) error {
	return insertMessage(ctx, r.db, msg)
}

// AddRecipients inserts all links in a single statement.
func (r *MessageRepository) AddRecipients(ctx context.Context, links []types.MessageRecipient) error {
	return insertRecipients(ctx, r.db, links)
}

// CreateWithRecipients writes msg and its links in one transaction.
func (r *MessageRepository) CreateWithRecipients(ctx context.Context, msg types.Message, links []types.MessageRecipient) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if err := insertRecipients(ctx, tx, links); err != nil {
			return fmt.Errorf("insert recipients: %w", err)
		}
		return nil
	})
}

func (r *MessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM messages WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a message with its sender nick and recipient ids.
func (r *MessageRepository) Get(ctx context.Context, id uuid.UUID) (types.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`
	var msg types.Message
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.Content,
		&msg.SenderID,
		&msg.SenderNick,
		&msg.SentAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrNotFound
		}
		return types.Message{}, err
	}

	const recipientsQuery = `
		SELECT recipient_id
		FROM message_recipients
		WHERE message_id = $1
		ORDER BY recipient_id`
	msg.Recipients, err = r.queryIDs(ctx, recipientsQuery, id)
	if err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// MessageIDsForRecipient returns the ids of every message linked to recipientID.
func (r *MessageRepository) MessageIDsForRecipient(ctx context.Context, recipientID uuid.UUID) ([]uuid.UUID, error) {
	const query = `SELECT message_id FROM message_recipients WHERE recipient_id = $1`
	return r.queryIDs(ctx, query, recipientID)
}

// ListAll returns one page over every message.
func (r *MessageRepository) ListAll(ctx context.Context, sort paging.Sort, page paging.Params) ([]types.Message, int, error) {
	return r.list(ctx, "", "", nil, sort, page)
}

// ListByIDs returns one page over the messages whose id is in ids.
func (r *MessageRepository) ListByIDs(ctx context.Context, ids []uuid.UUID, sort paging.Sort, page paging.Params) ([]types.Message, int, error) {
	return r.list(ctx, "", "m.id = ANY($1::uuid[])", []any{uuidArray(ids)}, sort, page)
}

// ListForRecipient returns one page over the messages linked to recipientID,
// joining the link table instead of materialising the id set.
func (r *MessageRepository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, sort paging.Sort, page paging.Params) ([]types.Message, int, error) {
	return r.list(
		ctx,
		"JOIN message_recipients mr ON mr.message_id = m.id",
		"mr.recipient_id = $1",
		[]any{recipientID},
		sort,
		page,
	)
}

// SentBy returns every message sent by senderID, oldest first.
func (r *MessageRepository) SentBy(ctx context.Context, senderID uuid.UUID) ([]types.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.sender_id = $1
		ORDER BY m.sent_at, m.seq`
	rows, err := r.db.QueryContext(ctx, query, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows, 0)
}

// DeleteLinksForUser removes links received by userID and links of
// messages sent by userID.
func (r *MessageRepository) DeleteLinksForUser(ctx context.Context, userID uuid.UUID) error {
	const query = `
		DELETE FROM message_recipients
		WHERE recipient_id = $1
			OR message_id IN (SELECT id FROM messages WHERE sender_id = $1)`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

// DeleteBySender removes every message sent by senderID.
func (r *MessageRepository) DeleteBySender(ctx context.Context, senderID uuid.UUID) error {
	const query = `DELETE FROM messages WHERE sender_id = $1`
	_, err := r.db.ExecContext(ctx, query, senderID)
	return err
}

// ReplaceAll deletes every link and message, then inserts msgs and links,
// all in one transaction.
func (r *MessageRepository) ReplaceAll(ctx context.Context, msgs []types.Message, links []types.MessageRecipient) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM message_recipients`); err != nil {
			return fmt.Errorf("delete recipients: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		for _, msg := range msgs {
			if err := insertMessage(ctx, tx, msg); err != nil {
				return fmt.Errorf("insert message %s: %w", msg.ID, err)
			}
		}
		if err := insertRecipients(ctx, tx, links); err != nil {
			return fmt.Errorf("insert recipients: %w", err)
		}
		return nil
	})
}

func (r *MessageRepository) list(
	ctx context.Context,
	join, where string,
	args []any,
	sort paging.Sort,
	page paging.Params,
) ([]types.Message, int, error) {
	order, err := orderBy(sort)
	if err != nil {
		return nil, 0, err
	}

	filter := ""
	if where != "" {
		filter = "WHERE " + where
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(1) FROM messages m %s %s`, join, filter)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []types.Message{}, 0, nil
	}

	n := len(args)
	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM messages m
		%s
		LEFT JOIN users u ON u.id = m.sender_id
		%s
		ORDER BY %s
		OFFSET $%d LIMIT $%d`,
		messageColumns, join, filter, order, n+1, n+2,
	)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, page.Offset(), page.Limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows, page.Limit)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *MessageRepository) queryIDs(ctx context.Context, query string, arg any) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *MessageRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, db execer, msg types.Message) error {
	const query = `
		INSERT INTO messages (id, content, sender_id, sent_at)
		VALUES ($1, $2, $3, $4)`
	_, err := db.ExecContext(ctx, query, msg.ID, msg.Content, msg.SenderID, msg.SentAt)
	return err
}

func insertRecipients(ctx context.Context, db execer, links []types.MessageRecipient) error {
	if len(links) == 0 {
		return nil
	}
	messageIDs := make([]uuid.UUID, len(links))
	recipientIDs := make([]uuid.UUID, len(links))
	for i, link := range links {
		messageIDs[i] = link.MessageID
		recipientIDs[i] = link.RecipientID
	}

	const query = `
		INSERT INTO message_recipients (message_id, recipient_id)
		SELECT * FROM unnest($1::uuid[], $2::uuid[])`
	_, err := db.ExecContext(ctx, query, uuidArray(messageIDs), uuidArray(recipientIDs))
	return err
}

func orderBy(sort paging.Sort) (string, error) {
	column, ok := sortColumns[sort.Field]
	if !ok {
		return "", fmt.Errorf("%w: unknown field %q", paging.ErrInvalidSort, sort.Field)
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, m.seq %s", column, dir, dir), nil
}

func scanMessages(rows *sql.Rows, capacity int) ([]types.Message, error) {
	msgs := make([]types.Message, 0, capacity)
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Content,
			&msg.SenderID,
			&msg.SenderNick,
			&msg.SentAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
