package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time // zero = never
}

// MemoryStore is a process-local Store. It is suitable for tests and
// single-instance deployments; use RedisStore when running more than one
// replica, since signals written on one instance must be visible to the
// poller on another.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memEntry

	// Now is overridable in tests to drive expiry deterministically.
	Now func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memEntry),
		Now:  time.Now,
	}
}

// Get returns the live value at key. Expired entries are removed lazily.
func (s *MemoryStore) Get(_ context.Context, key Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key.String()]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.Now().Before(e.expiresAt) {
		delete(s.data, key.String())
		return "", false, nil
	}
	return e.value, true, nil
}

// Set writes value at key, overwriting any previous entry and its TTL.
func (s *MemoryStore) Set(_ context.Context, key Key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.data[key.String()] = e
	return nil
}

// Del removes key; removing an absent key is a no-op.
func (s *MemoryStore) Del(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key.String())
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)
