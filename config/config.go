package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	AuthModeFixed = "fixed"
	AuthModeJWT   = "jwt"

	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"
	MQBackendLoopback = "loopback"

	StorageBackendNone  = "none"
	StorageBackendMinio = "minio"
	StorageBackendGCS   = "gcs"
)

type Config struct {
	Env          string `envconfig:"ENV" default:"prod"`
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	SentryDSN    string `envconfig:"SENTRY_DSN"`
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`

	// CORSAllowedOrigins is a comma separated list. Empty disables CORS.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	Database DatabaseConfig `envconfig:"DB"`
	Auth     AuthConfig     `envconfig:"AUTH"`
	Messages MessagesConfig `envconfig:"MESSAGES"`
	Users    UsersConfig    `envconfig:"USERS"`

	MQBackend string         `envconfig:"MQ_BACKEND" default:"none"`
	RabbitMQ  RabbitMQConfig `envconfig:"RABBITMQ"`
	PubSub    PubSubConfig   `envconfig:"PUBSUB"`

	StorageBackend string      `envconfig:"STORAGE_BACKEND" default:"none"`
	Minio          MinioConfig `envconfig:"MINIO"`
	GCS            GCSConfig   `envconfig:"GCS"`
}

type DatabaseConfig struct {
	Host     string `default:"localhost"`
	Port     int    `default:"5432"`
	User     string `default:"racedesk"`
	Password string `default:"password"`
	Name     string `default:"racedesk_db"`
	UseSSL   bool   `split_words:"true" default:"false"`

	MaxOpenConns    int           `split_words:"true" default:"25"`
	MaxIdleConns    int           `split_words:"true" default:"5"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"30m"`
}

// AuthConfig selects how callers are identified. In fixed mode every request
// acts as the configured caller, which mirrors the current deployment where
// no identity provider is wired in yet.
type AuthConfig struct {
	Mode       string        `default:"fixed"`
	JWTSecret  string        `split_words:"true"`
	TokenTTL   time.Duration `split_words:"true" default:"24h"`
	CallerID   string        `split_words:"true" default:"00000000-0000-0000-0000-000000000001"`
	CallerNick string        `split_words:"true" default:"admin"`
	CallerRole string        `split_words:"true" default:"race_director"`
	APIKeyHash string        `split_words:"true"`
	APIKeyNick string        `split_words:"true" default:"ops"`
}

type MessagesConfig struct {
	DefaultLimit int    `split_words:"true" default:"5"`
	MaxLimit     int    `split_words:"true" default:"100"`
	AtomicCreate bool   `split_words:"true" default:"true"`
	ReadStrategy string `split_words:"true" default:"prefilter"`
}

type UsersConfig struct {
	DefaultLimit int `split_words:"true" default:"10"`
	MaxLimit     int `split_words:"true" default:"100"`
}

// RabbitMQConfig publishes to a topic exchange; every consumer group gets
// its own queue bound to it.
type RabbitMQConfig struct {
	URL             string
	Exchange        string `default:"racedesk.events"`
	ConsumerGroup   string `split_words:"true" default:"notify"`
	PrefetchCount   int    `split_words:"true" default:"10"`
	QueueDurable    bool   `split_words:"true" default:"true"`
	QueueAutoDelete bool   `split_words:"true" default:"false"`
}

type PubSubConfig struct {
	ProjectID          string        `split_words:"true"`
	CredentialsFile    string        `split_words:"true"`
	ConsumerGroup      string        `split_words:"true" default:"notify"`
	AckDeadline        time.Duration `split_words:"true" default:"30s"`
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string `split_words:"true"`
	SecretKey string `split_words:"true"`
	Bucket    string `default:"racedesk-archive"`
	UseSSL    bool   `split_words:"true" default:"false"`
}

type GCSConfig struct {
	ProjectID       string `split_words:"true"`
	Bucket          string
	CredentialsFile string `split_words:"true"`
}

// LoadConfig reads the process environment. A .env file is honoured only when
// ENV=dev so that production never picks up a stray file from the working dir.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.Auth.Mode {
	case AuthModeFixed:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is required when AUTH_MODE=%s", AuthModeJWT)
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.Auth.Mode)
	}
	switch c.MQBackend {
	case MQBackendNone, MQBackendRabbitMQ, MQBackendPubSub, MQBackendLoopback:
	default:
		return fmt.Errorf("unsupported MQ_BACKEND %q", c.MQBackend)
	}
	switch c.StorageBackend {
	case StorageBackendNone, StorageBackendMinio, StorageBackendGCS:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.Messages.ReadStrategy {
	case "prefilter", "join":
	default:
		return fmt.Errorf("unsupported MESSAGES_READ_STRATEGY %q", c.Messages.ReadStrategy)
	}
	if c.Messages.DefaultLimit < 1 || c.Users.DefaultLimit < 1 {
		return fmt.Errorf("default page limits must be positive")
	}
	return nil
}
