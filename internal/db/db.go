package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/racedesk/apiserver/config"
)

// MigrationsURL is the golang-migrate source holding the schema.
const MigrationsURL = "file://internal/db/migrations"

const (
	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 2 * time.Minute
)

// URL builds the postgres connection URL for cfg.
func URL(cfg config.DatabaseConfig) string {
	mode := "disable"
	if cfg.UseSSL {
		mode = "require"
	}
	return (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     cfg.Name,
		RawQuery: url.Values{"sslmode": {mode}}.Encode(),
	}).String()
}

// Open returns a pooled connection that has answered a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}
