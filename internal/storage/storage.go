package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/types"
)

// ErrObjectNotFound is returned by every backend for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns ErrObjectNotFound for a missing key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns every key under prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
	Bucket() string
	Close() error
}

// UserSnapshot is the archived state of a user taken before deletion.
type UserSnapshot struct {
	User         types.User      `json:"user"`
	SentMessages []types.Message `json:"sent_messages"`
	ArchivedAt   time.Time       `json:"archived_at"`
}

// Archive stores JSON documents in an ObjectStorage backend.
type Archive struct {
	backend ObjectStorage
}

// NewArchive constructs an Archive for the provided backend.
func NewArchive(backend ObjectStorage) *Archive {
	return &Archive{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	return a.backend.EnsureBucket(ctx)
}

// UserKey is the object key of a user snapshot taken at t.
func UserKey(id uuid.UUID, t time.Time) string {
	return fmt.Sprintf("%s%d.json", userPrefix(id), t.UnixNano())
}

func userPrefix(id uuid.UUID) string {
	return "archive/users/" + id.String() + "/"
}

// ArchiveUser writes snapshot and returns its object key.
func (a *Archive) ArchiveUser(ctx context.Context, snapshot UserSnapshot) (string, error) {
	key := UserKey(snapshot.User.ID, snapshot.ArchivedAt)
	if err := a.PutJSON(ctx, key, snapshot); err != nil {
		return "", err
	}
	return key, nil
}

// UserSnapshots lists the snapshot keys of a user, oldest first.
func (a *Archive) UserSnapshots(ctx context.Context, id uuid.UUID) ([]string, error) {
	keys, err := a.backend.List(ctx, userPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", a.backend.Bucket(), userPrefix(id), err)
	}
	keys = slices.DeleteFunc(keys, func(key string) bool { return !strings.HasSuffix(key, ".json") })
	slices.Sort(keys)
	return keys, nil
}

// LatestUser returns the most recent snapshot of a user.
func (a *Archive) LatestUser(ctx context.Context, id uuid.UUID) (UserSnapshot, string, error) {
	keys, err := a.UserSnapshots(ctx, id)
	if err != nil {
		return UserSnapshot{}, "", err
	}
	if len(keys) == 0 {
		return UserSnapshot{}, "", fmt.Errorf("%w: no snapshot of user %s", ErrObjectNotFound, id)
	}
	key := keys[len(keys)-1]
	var snapshot UserSnapshot
	if err := a.GetJSON(ctx, key, &snapshot); err != nil {
		return UserSnapshot{}, "", err
	}
	return snapshot, key, nil
}

// Close releases the backend.
func (a *Archive) Close() error {
	return a.backend.Close()
}

// PutJSON encodes v and uploads it under key.
func (a *Archive) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("put %s/%s: %w", a.backend.Bucket(), key, err)
	}
	return nil
}

// GetJSON downloads key and decodes it into v.
func (a *Archive) GetJSON(ctx context.Context, key string, v any) error {
	rc, err := a.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", a.backend.Bucket(), key, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// requireSettings reports every blank setting of a backend by its
// environment variable name.
func requireSettings(section string, settings map[string]string) error {
	var missing []string
	for name, value := range settings {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, section+"_"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing storage settings: %s", strings.Join(missing, ", "))
}
