// internal/common/database/postgres.go

// Package database holds the storage client wrappers. Constructors verify
// connectivity so startup retry loops see real failures.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"notify-engine/internal/common/config"

	_ "github.com/lib/pq"
)

const connectPingTimeout = 5 * time.Second

// PostgresClient owns the sql.DB pool.
type PostgresClient struct {
	db *sql.DB
}

// NewPostgres opens the pool and pings it before returning.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresClient{db: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	return c.db.Close()
}

// GetDB exposes the pool for the store layer.
func (c *PostgresClient) GetDB() *sql.DB {
	return c.db
}
