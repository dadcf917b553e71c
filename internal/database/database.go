// Package database holds the event store: Postgres repositories over lib/pq,
// an in-memory store for development and tests, and embedded migrations.
package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/config"
)

// Config holds pool settings for the events database.
type Config struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig returns pool defaults sized for a single Cloud Run instance.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    time.Minute,
		ConnectTimeout:     10 * time.Second,
	}
}

// ConfigFrom applies the service settings on top of the defaults. url is the
// resolved connection string.
func ConfigFrom(cfg config.DatabaseConfig, url string) Config {
	c := DefaultConfig()
	c.URL = url
	if cfg.MaxConnections > 0 {
		c.MaxConnections = cfg.MaxConnections
	}
	if cfg.MaxIdleConnections > 0 {
		c.MaxIdleConnections = cfg.MaxIdleConnections
	}
	if c.MaxIdleConnections > c.MaxConnections {
		c.MaxIdleConnections = c.MaxConnections
	}
	return c
}

// Connect opens the pool and pings it. An unreachable server is a
// store_unavailable error so startup retries can tell it from bad config.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	const op = "database.connect"

	if cfg.URL == "" {
		return nil, apperr.Configuration(op, "database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindConfiguration, Op: op, Message: "invalid database URL", Err: err}
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrapErr(op, err)
	}

	return db, nil
}

// HealthCheck pings the pool with a short deadline.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return wrapErr("database.health_check", err)
	}
	return nil
}
