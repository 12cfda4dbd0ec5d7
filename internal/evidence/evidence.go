// Package evidence stores raw credential evidence in content-addressed
// storage and computes the deterministic content hash anchored on the ledger.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"credsync/pkg/platform/sentinel"
)

// Store uploads and retrieves evidence blobs.
type Store interface {
	// Upload persists data and returns its content address. The credential
	// record must not be created unless the upload succeeded.
	Upload(ctx context.Context, name string, data []byte) (pointer string, err error)
	// Fetch returns the bytes behind a previously returned pointer.
	Fetch(ctx context.Context, pointer string) ([]byte, error)
}

// MemoryStore keeps evidence in process memory, keyed by content digest.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory evidence store.
func NewMemory() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	pointer := "mem://" + hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[pointer] = stored
	return pointer, nil
}

func (s *MemoryStore) Fetch(ctx context.Context, pointer string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[pointer]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}
