package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials the Redis instance described by redisURL
// (redis://[user:pass@]host:port/db) and verifies it with a ping.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Get returns the value at key, with ok=false on a miss.
func (s *RedisStore) Get(ctx context.Context, key Key) (string, bool, error) {
	val, err := s.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes value at key with the given TTL (0 = no expiry).
func (s *RedisStore) Set(ctx context.Context, key Key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key.String(), value, ttl).Err()
}

// Del removes key. Deleting an absent key is not an error.
func (s *RedisStore) Del(ctx context.Context, key Key) error {
	return s.client.Del(ctx, key.String()).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
