package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionPrefix is the Redis key prefix for per-origin session hashes.
const SessionPrefix = "session:"

// RedisBackend stores keys as fields of the hash session:<origin>.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend connects to Redis at addr and verifies the connection.
func NewRedisBackend(addr, origin string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewRedisBackendFromClient(client, origin), nil
}

// NewRedisBackendFromClient uses an existing client. The caller keeps
// ownership of client unless it calls Close on the backend.
func NewRedisBackendFromClient(client *redis.Client, origin string) *RedisBackend {
	return &RedisBackend{client: client, key: SessionPrefix + origin}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis HGET %s %s: %w", r.key, key, err)
	}
	return v, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", r.key, key, err)
	}
	return nil
}

func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s %s: %w", r.key, key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
