// internal/common/database/redis.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loan-catalog/internal/common/config"

	"github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "loan-catalog:cache:"

// RedisClient is the connection behind the shared cache tier. Keys it
// reports on are limited to the configured cache prefix.
type RedisClient struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is empty")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Address,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		PoolSize:        8,
		MinIdleConns:    1,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	return &RedisClient{client: rdb, prefix: prefix}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.client.Options().Addr, err)
	}
	return nil
}

// CachedKeys counts the cache entries currently held under the prefix.
func (c *RedisClient) CachedKeys(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return count, fmt.Errorf("scan %s*: %w", c.prefix, err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (c *RedisClient) Prefix() string { return c.prefix }

func (c *RedisClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}
