package approval

import (
	"context"
	"sync"
	"time"
)

// ClaimStore hands out exclusive review leases on queue items.
//
// Acquire is atomic: at most one holder owns a key until its lease expires
// or is released. Re-acquiring a key you already hold refreshes the lease.
type ClaimStore interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

type memClaim struct {
	holder  string
	expires time.Time
}

// MemoryClaims is a process-local ClaimStore for tests and single-node runs.
type MemoryClaims struct {
	mu     sync.Mutex
	claims map[string]memClaim
	clock  func() time.Time
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{claims: make(map[string]memClaim), clock: time.Now}
}

func (s *MemoryClaims) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	c, ok := s.claims[key]
	if ok && c.expires.After(now) && c.holder != holder {
		return false, nil
	}
	s.claims[key] = memClaim{holder: holder, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryClaims) Release(_ context.Context, key, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[key]; ok && c.holder == holder {
		delete(s.claims, key)
	}
	return nil
}
