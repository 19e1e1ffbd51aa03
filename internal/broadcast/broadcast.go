// Package broadcast pushes freshly delivered messages toward connected
// clients. The transport itself (websocket fan-out, push gateway) lives
// outside this service; this package only publishes to the per-recipient
// channel that transport subscribes to.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers a payload to a single user's channel, best effort.
type Publisher interface {
	Publish(ctx context.Context, userID uint64, payload any) error
	Close() error
}

// userChannel is the channel name the push transport subscribes to.
func userChannel(userID uint64) string {
	return fmt.Sprintf("chat:user:%d", userID)
}

// RedisPublisher publishes JSON payloads over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher dials redisURL and verifies the connection.
func NewRedisPublisher(ctx context.Context, redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisPublisher{client: client}, nil
}

// Publish marshals payload and publishes it to the user's channel.
// Zero subscribers is a success; delivery here is at-most-once.
func (p *RedisPublisher) Publish(ctx context.Context, userID uint64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, userChannel(userID), raw).Err()
}

// Close releases the underlying connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher drops every payload. Used when no broadcast transport is
// configured; clients then rely entirely on polling.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, uint64, any) error { return nil }
func (NopPublisher) Close() error                               { return nil }

var _ Publisher = (*RedisPublisher)(nil)
var _ Publisher = NopPublisher{}
