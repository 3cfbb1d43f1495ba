package rotation

import (
	"context"
	"sync"
)

// MemoryStore is the process-local rotation state for tests.
type MemoryStore struct {
	mu     sync.Mutex
	cursor int
	sent   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sent: make(map[string]int)}
}

func (s *MemoryStore) NextIndex(_ context.Context, total int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.cursor % total
	s.cursor++
	return idx, nil
}

func (s *MemoryStore) AddSent(_ context.Context, email, day string, count, cap int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := day + ":" + email
	if s.sent[k]+count > cap {
		return s.sent[k], false, nil
	}
	s.sent[k] += count
	return s.sent[k], true, nil
}

func (s *MemoryStore) SentCount(_ context.Context, email, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[day+":"+email], nil
}
