package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/types"
	"github.com/stretchr/testify/require"
)

func TestArchiveUser(t *testing.T) {
	req := require.New(t)
	backend := NewMemory("archive")
	archive := NewArchive(backend)

	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	user := types.User{ID: uuid.New(), Nick: "Arek", Roles: types.RolePilot}
	snapshot := UserSnapshot{
		User:         user,
		SentMessages: []types.Message{{ID: uuid.New(), Content: "hi", SenderID: user.ID, SentAt: at}},
		ArchivedAt:   at,
	}

	key, err := archive.ArchiveUser(t.Context(), snapshot)
	req.NoError(err)
	req.Equal(UserKey(user.ID, at), key)
	keys, err := archive.UserSnapshots(t.Context(), user.ID)
	req.NoError(err)
	req.Equal([]string{key}, keys)

	var got UserSnapshot
	req.NoError(archive.GetJSON(t.Context(), key, &got))
	req.Equal(user.Nick, got.User.Nick)
	req.Len(got.SentMessages, 1)
	req.True(at.Equal(got.ArchivedAt))
}

func TestGetJSONMissing(t *testing.T) {
	req := require.New(t)
	archive := NewArchive(NewMemory("archive"))
	var v map[string]any
	req.ErrorIs(archive.GetJSON(t.Context(), "nope.json", &v), ErrObjectNotFound)
}

func TestLatestUser(t *testing.T) {
	t.Run("should return the newest snapshot", func(t *testing.T) {
		req := require.New(t)
		archive := NewArchive(NewMemory("archive"))
		user := types.User{ID: uuid.New(), Nick: "Arek"}
		other := types.User{ID: uuid.New(), Nick: "Basia"}
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		for i, u := range []types.User{user, other, user} {
			snapshot := UserSnapshot{User: u, ArchivedAt: base.Add(time.Duration(i) * time.Hour)}
			snapshot.User.Nick = u.Nick + "@" + snapshot.ArchivedAt.Format(time.Kitchen)
			_, err := archive.ArchiveUser(t.Context(), snapshot)
			req.NoError(err)
		}

		keys, err := archive.UserSnapshots(t.Context(), user.ID)
		req.NoError(err)
		req.Len(keys, 2)

		got, key, err := archive.LatestUser(t.Context(), user.ID)
		req.NoError(err)
		req.Equal(keys[1], key)
		req.Equal("Arek@2:00AM", got.User.Nick)
	})

	t.Run("should report a user without snapshots", func(t *testing.T) {
		req := require.New(t)
		archive := NewArchive(NewMemory("archive"))
		_, _, err := archive.LatestUser(t.Context(), uuid.New())
		req.ErrorIs(err, ErrObjectNotFound)
	})
}

func TestRequireSettings(t *testing.T) {
	req := require.New(t)
	req.NoError(requireSettings("MINIO", map[string]string{"BUCKET": "b"}))

	err := requireSettings("MINIO", map[string]string{"BUCKET": " ", "ENDPOINT": "", "ACCESS_KEY": "k"})
	req.EqualError(err, "missing storage settings: MINIO_BUCKET, MINIO_ENDPOINT")
}
