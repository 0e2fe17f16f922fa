package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "pos:checkout:"
	pendingValue = "pending"
)

type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(addr string, password string, db int) *RedisIdempotencyStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisIdempotencyStore{client: client}
}

// NewRedisIdempotencyStoreFromClient wraps an existing client.
func NewRedisIdempotencyStoreFromClient(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (c *RedisIdempotencyStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

func (c *RedisIdempotencyStore) Close() error {
	return c.client.Close()
}

func (c *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ok, err := c.client.SetNX(ctx, keyPrefix+key, pendingValue, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("cache: reserve: %w", err)
	}
	if ok {
		return "", true, nil
	}

	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = c.client.SetNX(ctx, keyPrefix+key, pendingValue, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("cache: reserve: %w", err)
		}
		if ok {
			return "", true, nil
		}
		return "", false, ErrInFlight
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: lookup: %w", err)
	}
	if val == pendingValue {
		return "", false, ErrInFlight
	}
	return val, false, nil
}

func (c *RedisIdempotencyStore) Complete(ctx context.Context, key string, saleID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, keyPrefix+key, saleID, ttl).Err(); err != nil {
		return fmt.Errorf("cache: complete: %w", err)
	}
	return nil
}

func (c *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: release: %w", err)
	}
	return nil
}
