package campaign

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is the in-memory campaign store for tests.
type MemoryRepo struct {
	mu          sync.Mutex
	campaigns   map[string]Campaign
	enrollments []Enrollment
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: make(map[string]Campaign)}
}

func (r *MemoryRepo) CreateCampaign(_ context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) GetCampaign(_ context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) UpdateCampaign(_ context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) ListCampaigns(_ context.Context, status Status) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) CreateEnrollment(_ context.Context, e Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.enrollments {
		if ex.CampaignID == e.CampaignID && ex.LeadID == e.LeadID {
			return ErrAlreadyEnrolled
		}
	}
	r.enrollments = append(r.enrollments, e)
	return nil
}

func (r *MemoryRepo) UpdateEnrollment(_ context.Context, e Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.enrollments {
		if r.enrollments[i].ID == e.ID {
			r.enrollments[i] = e
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepo) GetEnrollment(_ context.Context, campaignID, leadID string) (Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.enrollments {
		if e.CampaignID == campaignID && e.LeadID == leadID {
			return e, nil
		}
	}
	return Enrollment{}, ErrNotFound
}

func (r *MemoryRepo) DueEnrollments(_ context.Context, campaignID string, now time.Time, limit int) ([]Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Enrollment
	for _, e := range r.enrollments {
		if e.CampaignID != campaignID || e.State != EnrollActive {
			continue
		}
		if e.WaitUntil != nil && e.WaitUntil.After(now) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CountEnrollments(_ context.Context, campaignID string, state EnrollState) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.enrollments {
		if e.CampaignID == campaignID && (state == "" || e.State == state) {
			n++
		}
	}
	return n, nil
}
