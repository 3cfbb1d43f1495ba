package inbound

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is the in-memory inbound message store for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Create(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

func (r *MemoryRepo) ExistsByMessageID(_ context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) LatestIntent(_ context.Context, leadID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		latest time.Time
		intent string
	)
	for _, m := range r.messages {
		if m.LeadID != leadID || m.ReceivedAt.Before(latest) {
			continue
		}
		latest = m.ReceivedAt
		intent = string(m.Intent)
	}
	return intent, nil
}

func (r *MemoryRepo) ListPending(_ context.Context, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Outcome == OutcomePending {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CountPending(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.Outcome == OutcomePending {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Decide(_ context.Context, id string, outcome Outcome, decidedBy string, at time.Time) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID != id {
			continue
		}
		m := &r.messages[i]
		if m.Outcome == outcome {
			return *m, nil
		}
		if m.Outcome != OutcomePending {
			return *m, ErrAlreadyDecided
		}
		m.Outcome = outcome
		m.DecidedBy = decidedBy
		t := at
		m.DecidedAt = &t
		m.UpdatedAt = at
		return *m, nil
	}
	return Message{}, ErrNotFound
}
