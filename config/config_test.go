package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("should apply defaults when environment is empty", func(t *testing.T) {
		req := require.New(t)

		cfg, err := LoadConfig()

		req.NoError(err)
		req.Equal(8080, cfg.ServerPort)
		req.Equal(StoreBackendPostgres, cfg.StoreBackend)
		req.Equal("localhost", cfg.Database.Host)
		req.Equal(5432, cfg.Database.Port)
		req.Equal(AuthModeFixed, cfg.Auth.Mode)
		req.Equal("race_director", cfg.Auth.CallerRole)
		req.Equal(5, cfg.Messages.DefaultLimit)
		req.Equal(10, cfg.Users.DefaultLimit)
		req.Equal(100, cfg.Users.MaxLimit)
		req.True(cfg.Messages.AtomicCreate)
		req.Equal("prefilter", cfg.Messages.ReadStrategy)
		req.Equal(MQBackendNone, cfg.MQBackend)
	})

	t.Run("should read nested sections with their prefix", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("DB_HOST", "db.internal")
		t.Setenv("DB_PORT", "6543")
		t.Setenv("MESSAGES_DEFAULT_LIMIT", "20")
		t.Setenv("STORE_BACKEND", StoreBackendMemory)

		cfg, err := LoadConfig()

		req.NoError(err)
		req.Equal("db.internal", cfg.Database.Host)
		req.Equal(6543, cfg.Database.Port)
		req.Equal(20, cfg.Messages.DefaultLimit)
		req.Equal(StoreBackendMemory, cfg.StoreBackend)
	})

	t.Run("should require a secret in jwt mode", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("AUTH_MODE", AuthModeJWT)

		_, err := LoadConfig()

		req.Error(err)
	})

	t.Run("should reject unknown backends", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("MQ_BACKEND", "kafka")

		_, err := LoadConfig()

		req.ErrorContains(err, "MQ_BACKEND")
	})

	t.Run("should accept the in-process broker", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("MQ_BACKEND", MQBackendLoopback)

		cfg, err := LoadConfig()

		req.NoError(err)
		req.Equal(MQBackendLoopback, cfg.MQBackend)
	})

	t.Run("should reject an unknown read strategy", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("MESSAGES_READ_STRATEGY", "scan")

		_, err := LoadConfig()

		req.ErrorContains(err, "MESSAGES_READ_STRATEGY")
	})
}
