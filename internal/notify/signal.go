// Package notify implements the per-user new-message signal: a tiny
// ephemeral flag that tells a long-polling client "something arrived" so
// it can cut its wait short and fetch. The value is the id of the latest
// unseen message; it expires on its own so a signal nobody consumes never
// goes stale for long.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/mvasilak/go-messenger-backend/internal/kv"
)

// DefaultTTL bounds how long an unconsumed signal lives.
const DefaultTTL = 60 * time.Second

// SignalStore writes and reads new-message signals on a kv.Store.
type SignalStore struct {
	Store kv.Store
	TTL   time.Duration // 0 means DefaultTTL
}

func (s *SignalStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTTL
}

func signalKey(userID uint64) kv.Key {
	return kv.Key{Namespace: "chat", Entity: "signal", ID: userID}
}

// Signal records that msgID is waiting for userID. Later signals overwrite
// earlier ones; the latest id is always the one a poller sees.
func (s *SignalStore) Signal(ctx context.Context, userID, msgID uint64) error {
	return s.Store.Set(ctx, signalKey(userID), strconv.FormatUint(msgID, 10), s.ttl())
}

// Peek returns the pending message id without consuming the signal.
// Unparseable values count as absent.
func (s *SignalStore) Peek(ctx context.Context, userID uint64) (uint64, bool, error) {
	val, ok, err := s.Store.Get(ctx, signalKey(userID))
	if err != nil || !ok {
		return 0, false, err
	}
	id, perr := strconv.ParseUint(val, 10, 64)
	if perr != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// Clear removes userID's signal. Clearing an absent signal is a no-op, so
// concurrent pollers racing on the same signal are harmless.
func (s *SignalStore) Clear(ctx context.Context, userID uint64) error {
	return s.Store.Del(ctx, signalKey(userID))
}
