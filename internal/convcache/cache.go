// Package convcache caches a user's conversation listing for a short
// window. Invalidation is always deletion: writers never patch a cached
// listing, they drop it and let the next read rebuild from the database.
package convcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mvasilak/go-messenger-backend/internal/domain"
	"github.com/mvasilak/go-messenger-backend/internal/kv"
)

// DefaultTTL bounds staleness of a cached listing.
const DefaultTTL = 30 * time.Second

// Cache stores conversation summaries per user as JSON on a kv.Store.
type Cache struct {
	Store kv.Store
	TTL   time.Duration // 0 means DefaultTTL
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

func cacheKey(userID uint64) kv.Key {
	return kv.Key{Namespace: "chat", Entity: "conversations", ID: userID}
}

// Get returns the cached listing for userID. Corrupt payloads count as a
// miss so the caller falls through to the database.
func (c *Cache) Get(ctx context.Context, userID uint64) ([]domain.ConversationSummary, bool, error) {
	raw, ok, err := c.Store.Get(ctx, cacheKey(userID))
	if err != nil || !ok {
		return nil, false, err
	}
	var out []domain.ConversationSummary
	if uerr := json.Unmarshal([]byte(raw), &out); uerr != nil {
		return nil, false, nil
	}
	return out, true, nil
}

// Put caches the listing for userID for the configured TTL.
func (c *Cache) Put(ctx context.Context, userID uint64, summaries []domain.ConversationSummary) error {
	raw, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	return c.Store.Set(ctx, cacheKey(userID), string(raw), c.ttl())
}

// Invalidate drops userID's cached listing. Absent entries are a no-op.
func (c *Cache) Invalidate(ctx context.Context, userID uint64) error {
	return c.Store.Del(ctx, cacheKey(userID))
}
