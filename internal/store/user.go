package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/racedesk/apiserver/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, nick, email, roles, created_at`

// List returns one page of users and the total number of matching rows.
// An empty role matches every user.
func (r *UserRepository) List(ctx context.Context, role string, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 10
	}

	const countQuery = `SELECT COUNT(1) FROM users WHERE ($1::text = '' OR roles = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, role).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT ` + userColumns + `
		FROM users
		WHERE ($1::text = '' OR roles = $1)
		ORDER BY created_at, id
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, role, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users, err := scanUsers(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListAll returns every user ordered by nick.
func (r *UserRepository) ListAll(ctx context.Context) ([]types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY nick, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows, 0)
}

func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) GetByNick(ctx context.Context, nick string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE nick = $1`
	return r.getOne(ctx, query, nick)
}

func (r *UserRepository) ExistsByNick(ctx context.Context, nick string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE nick = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, nick).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// FindByIDs returns the users whose id is in ids. Unknown ids are skipped.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]types.User, error) {
	if len(ids) == 0 {
		return []types.User{}, nil
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, uuidArray(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows, len(ids))
}

// Create inserts user. A nick collision is reported as ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO users (id, nick, email, roles, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Nick,
		user.Email,
		user.Roles,
		user.CreatedAt,
	); err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM users WHERE id = $1`
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

// Ping reports whether the database is reachable.
func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (types.User, error) {
	var user types.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Nick,
		&user.Email,
		&user.Roles,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func scanUsers(rows *sql.Rows, capacity int) ([]types.User, error) {
	users := make([]types.User, 0, capacity)
	for rows.Next() {
		var user types.User
		if err := rows.Scan(
			&user.ID,
			&user.Nick,
			&user.Email,
			&user.Roles,
			&user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func uuidArray(ids []uuid.UUID) any {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return pq.Array(out)
}
