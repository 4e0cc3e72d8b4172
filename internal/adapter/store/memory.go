package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nimbus/internal/domain"
)

// MemoryStore is an in-memory domain.ThreadStore for tests and the CLI's
// ephemeral mode. Threads are deep-copied through JSON on both Load and
// Save so callers can never mutate stored state through a shared pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]byte)}
}

// Load implements domain.ThreadStore.
func (s *MemoryStore) Load(ctx context.Context, id string) (*domain.Thread, error) {
	s.mu.RLock()
	data, ok := s.threads[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, id)
	}

	var thread domain.Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", id, err)
	}
	return &thread, nil
}

// Save implements domain.ThreadStore. The snapshot is taken atomically:
// either the whole thread state is stored or nothing changes.
func (s *MemoryStore) Save(ctx context.Context, thread *domain.Thread) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", thread.ID, err)
	}

	s.mu.Lock()
	s.threads[thread.ID] = data
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored threads. Intended for testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

var _ domain.ThreadStore = (*MemoryStore)(nil)
