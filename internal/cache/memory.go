package cache

import (
	"context"
	"sync"
)

// MemoryBlobStore keeps blobs in a process-local map. It backs the
// runtime-only cache mode and is the default for tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{items: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	blob, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return blob, true, nil
}

func (s *MemoryBlobStore) Set(_ context.Context, key string, blob []byte) error {
	// Copy to decouple from caller's buffer
	blobCopy := make([]byte, len(blob))
	copy(blobCopy, blob)

	s.mu.Lock()
	s.items[key] = blobCopy
	s.mu.Unlock()
	return nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of blobs currently stored.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all blobs. Useful for tests or manual resets.
func (s *MemoryBlobStore) Clear() {
	s.mu.Lock()
	s.items = make(map[string][]byte)
	s.mu.Unlock()
}
