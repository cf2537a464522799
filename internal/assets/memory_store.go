package assets

import (
	"context"
	"sync"
)

// MemoryStore keeps assets in process memory. It backs local worlds and
// tests; production worlds use the S3 store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(_ context.Context, name string, content []byte) (string, error) {
	url := URL(content, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[url]; !ok {
		cp := make([]byte, len(content))
		copy(cp, content)
		s.byID[url] = cp
	}
	return url, nil
}

func (s *MemoryStore) Fetch(_ context.Context, url string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.byID[url]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	return cp, nil
}

// Put registers content under an explicit URL. Import paths use it when the
// URL was already computed while rewriting a bundle.
func (s *MemoryStore) Put(url string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	s.byID[url] = cp
}
