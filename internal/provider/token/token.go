// Package token caches provider access tokens with a TTL so multiple service
// instances share valid sessions instead of each opening their own.
package token

import (
	"context"
	"sync"
	"time"
)

// Store caches short-lived provider credentials.
type Store interface {
	// Get returns the cached token for key, or ok=false on a miss or expiry.
	Get(ctx context.Context, key string) (token string, ok bool, err error)
	// Put caches token under key for ttl.
	Put(ctx context.Context, key, token string, ttl time.Duration) error
	// Delete evicts the token, forcing the next caller to re-authenticate.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is a process-local Store for single-instance runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory creates an empty in-memory token store.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.token, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{token: token, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
