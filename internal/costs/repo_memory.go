package costs

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory ledger for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	Entries []Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Entry) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, e)
	return nil
}

func (r *MemoryRepo) Average(ctx context.Context) (int64, int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Entries) == 0 {
		return 0, 0, nil
	}
	var total int64
	for _, e := range r.Entries {
		total += e.CostMicroUSD
	}
	return total / int64(len(r.Entries)), len(r.Entries), nil
}
