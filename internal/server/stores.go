package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/db"
	"github.com/racedesk/apiserver/internal/mq"
	"github.com/racedesk/apiserver/internal/paging"
	"github.com/racedesk/apiserver/internal/services"
	"github.com/racedesk/apiserver/internal/storage"
	"github.com/racedesk/apiserver/internal/store"
	"github.com/racedesk/apiserver/internal/store/memory"
	"github.com/racedesk/apiserver/types"
)

const loopbackBuffer = 256

// UserStore is everything the application reads and writes about users.
type UserStore interface {
	services.UserRepository
	GetByNick(ctx context.Context, nick string) (types.User, error)
}

// MessageStore is everything the application reads and writes about messages.
type MessageStore interface {
	services.MessageRepository
	services.UserMessageCleaner
	ReplaceAll(ctx context.Context, msgs []types.Message, links []types.MessageRecipient) error
}

// Stores holds the repositories of the configured backend.
type Stores struct {
	Users    UserStore
	Messages MessageStore
	Ping     func(ctx context.Context) error
	Close    func() error
}

// OpenStores connects the repositories selected by cfg.StoreBackend.
func OpenStores(ctx context.Context, cfg config.Config) (Stores, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		s := memory.New()
		return Stores{
			Users:    s.Users,
			Messages: s.Messages,
			Ping:     s.Ping,
			Close:    func() error { return nil },
		}, nil
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return Stores{}, fmt.Errorf("open database: %w", err)
		}
		return Stores{
			Users:    store.NewUserRepository(conn),
			Messages: store.NewMessageRepository(conn),
			Ping:     conn.PingContext,
			Close:    conn.Close,
		}, nil
	default:
		return Stores{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// OpenEvents connects the broker selected by cfg.MQBackend. It returns nil
// when events are disabled.
func OpenEvents(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQBackend {
	case config.MQBackendNone, "":
		return nil, nil
	case config.MQBackendRabbitMQ:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return mq.New(client), nil
	case config.MQBackendLoopback:
		return mq.New(mq.NewLoopback(loopbackBuffer)), nil
	case config.MQBackendPubSub:
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return mq.New(client), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQBackend)
	}
}

// OpenArchive connects the object storage selected by cfg.StorageBackend.
// It returns nil when archiving is disabled.
func OpenArchive(ctx context.Context, cfg config.Config) (*storage.Archive, error) {
	var backend storage.ObjectStorage
	switch cfg.StorageBackend {
	case config.StorageBackendNone, "":
		return nil, nil
	case config.StorageBackendMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		backend = client
	case config.StorageBackendGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	archive := storage.NewArchive(backend)
	if err := archive.EnsureBucket(ctx); err != nil {
		_ = archive.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return archive, nil
}

// MessageDefaults returns the paging defaults for message listings.
func MessageDefaults(cfg config.Config) paging.Defaults {
	return paging.Defaults{Limit: cfg.Messages.DefaultLimit, MaxLimit: cfg.Messages.MaxLimit}
}

// UserDefaults returns the paging defaults for user listings.
func UserDefaults(cfg config.Config) paging.Defaults {
	return paging.Defaults{Limit: cfg.Users.DefaultLimit, MaxLimit: cfg.Users.MaxLimit}
}

// FixedCaller is the caller configured for fixed identity mode.
func FixedCaller(cfg config.AuthConfig) (uuid.UUID, error) {
	id, err := uuid.Parse(cfg.CallerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("AUTH_CALLER_ID: %w", err)
	}
	return id, nil
}
