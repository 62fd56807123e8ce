package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/internal/logging"
	"github.com/racedesk/apiserver/types"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	callerID := uuid.New()

	t.Run("should act as the configured caller in fixed mode", func(t *testing.T) {
		req := require.New(t)
		provider, err := NewIdentity(config.AuthConfig{
			Mode:       config.AuthModeFixed,
			CallerID:   callerID.String(),
			CallerNick: "Director",
			CallerRole: string(types.RoleRaceDirector),
		})
		req.NoError(err)

		caller, err := provider.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
		req.NoError(err)
		req.Equal(callerID, caller.ID)
		req.Equal(types.RoleRaceDirector, caller.Role)
	})

	t.Run("should reject a malformed fixed caller id", func(t *testing.T) {
		req := require.New(t)
		_, err := NewIdentity(config.AuthConfig{Mode: config.AuthModeFixed, CallerID: "nope"})
		req.ErrorContains(err, "AUTH_CALLER_ID")
	})

	t.Run("should accept bearer tokens and api keys in jwt mode", func(t *testing.T) {
		req := require.New(t)
		hash, err := auth.HashAPIKey("ops-key")
		req.NoError(err)

		provider, err := NewIdentity(config.AuthConfig{
			Mode:       config.AuthModeJWT,
			JWTSecret:  "secret",
			CallerID:   callerID.String(),
			APIKeyHash: hash,
			APIKeyNick: "ops",
		})
		req.NoError(err)

		pilot := auth.Caller{ID: uuid.New(), Nick: "Arek", Role: types.RolePilot}
		token, err := auth.IssueToken(pilot, "secret", time.Minute)
		req.NoError(err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		caller, err := provider.Identify(r)
		req.NoError(err)
		req.Equal(pilot.ID, caller.ID)
		req.Equal(types.RolePilot, caller.Role)

		r = httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-API-Key", "ops-key")
		caller, err = provider.Identify(r)
		req.NoError(err)
		req.Equal(callerID, caller.ID)
		req.Equal(types.RoleRaceDirector, caller.Role)

		_, err = provider.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
		req.ErrorIs(err, auth.ErrNoIdentity)
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		req := require.New(t)
		_, err := NewIdentity(config.AuthConfig{Mode: "ldap"})
		req.Error(err)
	})
}

func TestOpenStores(t *testing.T) {
	t.Run("should open the memory backend", func(t *testing.T) {
		req := require.New(t)
		stores, err := OpenStores(t.Context(), config.Config{StoreBackend: config.StoreBackendMemory})
		req.NoError(err)
		req.NoError(stores.Ping(t.Context()))
		req.NoError(stores.Close())

		user, err := stores.Users.Create(t.Context(), types.User{Nick: "Arek", Roles: types.RolePilot})
		req.NoError(err)
		got, err := stores.Users.GetByNick(t.Context(), "Arek")
		req.NoError(err)
		req.Equal(user.ID, got.ID)
	})

	t.Run("should reject an unknown backend", func(t *testing.T) {
		req := require.New(t)
		_, err := OpenStores(t.Context(), config.Config{StoreBackend: "sqlite"})
		req.Error(err)
	})
}

func TestOptionalBackends(t *testing.T) {
	req := require.New(t)

	events, err := OpenEvents(t.Context(), config.Config{MQBackend: config.MQBackendNone})
	req.NoError(err)
	req.Nil(events)

	archive, err := OpenArchive(t.Context(), config.Config{StorageBackend: config.StorageBackendNone})
	req.NoError(err)
	req.Nil(archive)

	_, err = OpenEvents(t.Context(), config.Config{MQBackend: "kafka"})
	req.Error(err)
	_, err = OpenArchive(t.Context(), config.Config{StorageBackend: "s3"})
	req.Error(err)
}

func TestDefaults(t *testing.T) {
	req := require.New(t)
	cfg := config.Config{
		Messages: config.MessagesConfig{DefaultLimit: 5, MaxLimit: 100},
		Users:    config.UsersConfig{DefaultLimit: 10, MaxLimit: 50},
	}
	req.Equal(5, MessageDefaults(cfg).Limit)
	req.Equal(50, UserDefaults(cfg).MaxLimit)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewWithLoopbackEvents(t *testing.T) {
	req := require.New(t)
	var logs syncBuffer

	srv, err := New(t.Context(), config.Config{
		ServerPort:   0,
		StoreBackend: config.StoreBackendMemory,
		MQBackend:    config.MQBackendLoopback,
		Auth: config.AuthConfig{
			Mode:       config.AuthModeFixed,
			CallerID:   uuid.NewString(),
			CallerNick: "Director",
			CallerRole: string(types.RoleRaceDirector),
		},
		Messages: config.MessagesConfig{DefaultLimit: 5, MaxLimit: 100, AtomicCreate: true, ReadStrategy: "prefilter"},
		Users:    config.UsersConfig{DefaultLimit: 10, MaxLimit: 100},
	}, logging.New(&logs, "info"))
	req.NoError(err)
	defer srv.close()

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec
	}

	rec := post("/users", `{"nick":"Director","roles":"race_director"}`)
	req.Equal(http.StatusCreated, rec.Code)
	var director types.User
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &director))

	rec = post("/users", `{"nick":"Arek","roles":"pilot"}`)
	req.Equal(http.StatusCreated, rec.Code)
	var pilot types.User
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &pilot))

	rec = post("/messages", fmt.Sprintf(`{"content":"box","sender_id":%q,"recipient_ids":[%q]}`, director.ID, pilot.ID))
	req.Equal(http.StatusCreated, rec.Code)

	req.Eventually(func() bool {
		return strings.Contains(logs.String(), `"msg":"pilot notified"`)
	}, 2*time.Second, 10*time.Millisecond)
	req.Contains(logs.String(), pilot.ID.String())
}
