package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/types"
)

// UserRepository is the in-memory user repository.
type UserRepository struct {
	s *Store
}

func (r *UserRepository) sorted(less func(a, b types.User) int) []types.User {
	users := make([]types.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, less)
	return users
}

func byCreated(a, b types.User) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

func (r *UserRepository) List(_ context.Context, role string, offset, limit int) ([]types.User, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matching := slices.DeleteFunc(r.sorted(byCreated), func(user types.User) bool {
		return role != "" && string(user.Roles) != role
	})

	total := len(matching)
	from := min(max(offset, 0), total)
	to := min(from+limit, total)
	return slices.Clone(matching[from:to]), total, nil
}

func (r *UserRepository) ListAll(context.Context) ([]types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.sorted(func(a, b types.User) int {
		if c := cmp.Compare(a.Nick, b.Nick); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	}), nil
}

func (r *UserRepository) Get(_ context.Context, id uuid.UUID) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByNick(_ context.Context, nick string) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, user := range r.s.users {
		if user.Nick == nick {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) ExistsByNick(ctx context.Context, nick string) (bool, error) {
	_, err := r.GetByNick(ctx, nick)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *UserRepository) FindByIDs(_ context.Context, ids []uuid.UUID) ([]types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpUserFindByIDs); err != nil {
		return nil, err
	}

	found := make([]types.User, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if user, ok := r.s.users[id]; ok {
			found = append(found, user)
		}
	}
	return found, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpUserCreate); err != nil {
		return types.User{}, err
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if _, ok := r.s.users[user.ID]; ok {
		return types.User{}, fmt.Errorf("%w: user %s", store.ErrConflict, user.ID)
	}
	for _, existing := range r.s.users {
		if existing.Nick == user.Nick {
			return types.User{}, fmt.Errorf("%w: nick %q", store.ErrConflict, user.Nick)
		}
	}
	r.s.users[user.ID] = user
	return user, nil
}

// Delete removes the user. Like the relational schema, it refuses while
// messages or links still reference the user.
func (r *UserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.enter(OpUserDelete); err != nil {
		return err
	}
	if _, ok := r.s.users[id]; !ok {
		return store.ErrNotFound
	}
	for _, row := range r.s.messages {
		if row.msg.SenderID == id {
			return fmt.Errorf("%w: user %s still sends messages", ErrForeignKey, id)
		}
	}
	for _, link := range r.s.links {
		if link.RecipientID == id {
			return fmt.Errorf("%w: user %s still receives messages", ErrForeignKey, id)
		}
	}
	delete(r.s.users, id)
	return nil
}
