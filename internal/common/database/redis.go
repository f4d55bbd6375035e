// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"notify-engine/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient owns the redis connection pool.
type RedisClient struct {
	client *redis.Client
}

// NewRedis dials redis and pings it before returning.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectPingTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisClient{client: client}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisClient) Close() error {
	return c.client.Close()
}

// GetClient exposes the client for the ledger, settings and watermark layers.
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}
