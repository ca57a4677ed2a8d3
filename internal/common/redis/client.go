package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/common/config"

	"github.com/go-redis/redis/v8"
)

const defaultDialTimeout = 5 * time.Second

// Client is an alias so callers do not import go-redis directly.
type Client = redis.Client

// NewRedisClient creates a client from the shared config without dialing.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: dial,
	})
}

// Connect creates a client and pings it within the dial timeout. The client
// is closed again when the ping fails.
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)

	ctx, cancel := context.WithTimeout(ctx, client.Options().DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return client, nil
}

// Close closes client if it is not nil.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
