package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore stores checkpoints in memory. Intended for testing and
// development only: all checkpoints are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]uint64
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]uint64)}
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, key string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[key]
	return id, ok, nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, key string, notificationID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = notificationID
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
