package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client for the inventory cache and rate
// limiter. The connection is verified before the client is handed out so a
// misconfigured cache fails at startup, not on the first read.
func NewRedisClient(url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// Fall back to a plain address
		opts = &redis.Options{
			Addr: url,
		}
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}

	opts.PoolSize = 20
	opts.MinIdleConns = 2
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}

	return client, nil
}

// RedisHealthCheck performs a health check on the Redis connection.
func RedisHealthCheck(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
