package genqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"outreach-engine/internal/lead"
)

// MemoryRepo is an in-memory draft store for tests and local runs. It covers
// the generation-queue contract plus the review-queue methods so one seeded
// store can back both services.
type MemoryRepo struct {
	mu        sync.Mutex
	leads     []lead.Lead
	companies map[string]lead.Company
	emails    []Email
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{companies: make(map[string]lead.Company)}
}

func (r *MemoryRepo) AddLead(l lead.Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads = append(r.leads, l)
}

func (r *MemoryRepo) AddCompany(c lead.Company) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies[c.ID] = c
}

func (r *MemoryRepo) Create(_ context.Context, e Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.emails {
		if ex.LeadID == e.LeadID && ex.Slot == e.Slot && ex.StepID == e.StepID {
			return ErrDraftExists
		}
	}
	r.emails = append(r.emails, e)
	return nil
}

func (r *MemoryRepo) LeadsWithoutDraft(_ context.Context, slot Slot, limit int) ([]lead.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.leadsWithoutDraftLocked(slot)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CountLeadsWithoutDraft(_ context.Context, slot Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leadsWithoutDraftLocked(slot)), nil
}

func (r *MemoryRepo) leadsWithoutDraftLocked(slot Slot) []lead.Lead {
	covered := make(map[string]bool, len(r.emails))
	for _, e := range r.emails {
		if e.Slot == slot {
			covered[e.LeadID] = true
		}
	}
	var out []lead.Lead
	for _, l := range r.leads {
		if l.OptedOut || l.ContactEmail() == "" || covered[l.ID] {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepo) CountBySlot(_ context.Context, slot Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.emails {
		if e.Slot == slot {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Company(_ context.Context, id string) (*lead.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepo) Lead(_ context.Context, id string) (lead.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.ID == id {
			return l, nil
		}
	}
	return lead.Lead{}, ErrNotFound
}

func (r *MemoryRepo) LeadByEmail(_ context.Context, email string) (lead.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.Email == email || l.WorkEmail == email {
			return l, nil
		}
	}
	return lead.Lead{}, ErrNotFound
}

func (r *MemoryRepo) UpdateLead(_ context.Context, l lead.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.leads {
		if r.leads[i].ID == l.ID {
			r.leads[i] = l
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) CountPending(_ context.Context, slot Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.emails {
		if e.Slot == slot && e.Outcome == OutcomePending {
			n++
		}
	}
	return n, nil
}

// ListApprovedUnsynced returns approved drafts still missing a CRM sync.
func (r *MemoryRepo) ListApprovedUnsynced(_ context.Context, limit int) ([]Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Email
	for _, e := range r.emails {
		if e.Outcome == OutcomeApproved && e.SyncedAt == nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.emails {
		if e.ID == id {
			return e, nil
		}
	}
	return Email{}, ErrNotFound
}

// ListPending returns pending drafts in the slot, oldest first.
func (r *MemoryRepo) ListPending(_ context.Context, slot Slot, limit int) ([]Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Email
	for _, e := range r.emails {
		if e.Slot == slot && e.Outcome == OutcomePending {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Decide applies a review outcome. Repeating the same outcome is a no-op;
// a conflicting outcome on a decided row returns ErrAlreadyDecided.
func (r *MemoryRepo) Decide(_ context.Context, id string, outcome Outcome, decidedBy, editedBody string, at time.Time) (Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.emails {
		if r.emails[i].ID != id {
			continue
		}
		e := &r.emails[i]
		if e.Outcome == outcome {
			return *e, nil
		}
		if e.Outcome != OutcomePending {
			return *e, ErrAlreadyDecided
		}
		e.Outcome = outcome
		e.DecidedBy = decidedBy
		if editedBody != "" {
			e.EditedBody = editedBody
		}
		t := at
		e.DecidedAt = &t
		e.UpdatedAt = at
		return *e, nil
	}
	return Email{}, ErrNotFound
}

func (r *MemoryRepo) SetScores(_ context.Context, id string, sc Scores, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.emails {
		if r.emails[i].ID == id {
			cp := sc
			r.emails[i].Scores = &cp
			r.emails[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) MarkSent(_ context.Context, id, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.emails {
		if r.emails[i].ID == id {
			r.emails[i].SentMessageID = messageID
			r.emails[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) FindBySentMessageID(_ context.Context, messageID string) (Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if messageID == "" {
		return Email{}, ErrNotFound
	}
	for _, e := range r.emails {
		if e.SentMessageID == messageID {
			return e, nil
		}
	}
	return Email{}, ErrNotFound
}

func (r *MemoryRepo) MarkSynced(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.emails {
		if r.emails[i].ID == id {
			t := at
			r.emails[i].SyncedAt = &t
			r.emails[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) FindByLeadStep(_ context.Context, leadID, stepID string) (Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.emails {
		if e.LeadID == leadID && e.StepID == stepID && stepID != "" {
			return e, nil
		}
	}
	return Email{}, ErrNotFound
}
