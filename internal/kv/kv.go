// Package kv provides a small typed-key key/value abstraction used for
// ephemeral state (notification signals, cached conversation listings).
//
// Keys are structured rather than hand-formatted strings so that every
// caller composes the same namespace/entity/id shape and two features can
// never collide on a bare user id. Two implementations exist: a Redis
// store for multi-process deployments and an in-memory store for tests
// and single-process setups.
package kv

import (
	"context"
	"fmt"
	"time"
)

// Key identifies a single value in the store.
type Key struct {
	Namespace string // feature area, e.g. "chat"
	Entity    string // what the value describes, e.g. "signal"
	ID        uint64 // owning entity id, e.g. a user id
}

// String renders the canonical wire form, e.g. "chat:signal:42".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Namespace, k.Entity, k.ID)
}

// Store is the minimal contract both backends satisfy. Get reports a miss
// via ok=false, not an error; expired entries are misses. A ttl of zero
// means no expiry.
type Store interface {
	Get(ctx context.Context, key Key) (value string, ok bool, err error)
	Set(ctx context.Context, key Key, value string, ttl time.Duration) error
	Del(ctx context.Context, key Key) error
	Close() error
}
