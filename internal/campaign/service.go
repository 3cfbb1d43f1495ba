package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/activity"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/lead"
)

var (
	ErrNotFound          = errors.New("campaign: not found")
	ErrAlreadyEnrolled   = errors.New("campaign: lead already enrolled")
	ErrInvalidTransition = errors.New("campaign: invalid status transition")
)

// Repository persists campaigns and enrollments.
type Repository interface {
	CreateCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	UpdateCampaign(ctx context.Context, c Campaign) error
	ListCampaigns(ctx context.Context, status Status) ([]Campaign, error)

	// CreateEnrollment enforces one enrollment per (campaign, lead).
	CreateEnrollment(ctx context.Context, e Enrollment) error
	UpdateEnrollment(ctx context.Context, e Enrollment) error
	GetEnrollment(ctx context.Context, campaignID, leadID string) (Enrollment, error)
	// DueEnrollments lists active enrollments whose wait has elapsed,
	// oldest entry first.
	DueEnrollments(ctx context.Context, campaignID string, now time.Time, limit int) ([]Enrollment, error)
	// CountEnrollments with an empty state counts every enrollment.
	CountEnrollments(ctx context.Context, campaignID string, state EnrollState) (int, error)
}

// LeadStore is the lead access the router needs.
type LeadStore interface {
	Lead(ctx context.Context, id string) (lead.Lead, error)
}

// Drafter produces the touch-step draft that then waits for human review.
type Drafter interface {
	DraftForStep(ctx context.Context, l lead.Lead, campaignID, stepID, instructions string) (genqueue.Email, error)
}

// DraftLookup resolves the draft a touch step produced for a lead and ties
// the delivered Message-ID back onto it.
type DraftLookup interface {
	FindByLeadStep(ctx context.Context, leadID, stepID string) (genqueue.Email, error)
	MarkSent(ctx context.Context, id, messageID string, at time.Time) error
}

// StepSender performs the actual send once a touch draft is approved. It
// returns the Message-ID stamped on the delivered mail.
type StepSender interface {
	SendStep(ctx context.Context, l lead.Lead, c Campaign, st Step, body string) (string, error)
}

// Recorder appends lead activity events.
type Recorder interface {
	RecordEvent(ctx context.Context, ev activity.Event) error
}

// ReplyLookup resolves the intent label of a lead's latest inbound reply.
// An empty label means the lead has never replied.
type ReplyLookup interface {
	LatestIntent(ctx context.Context, leadID string) (string, error)
}

// Service owns campaign lifecycle and the periodic step router.
type Service struct {
	repo    Repository
	leads   LeadStore
	drafter Drafter
	lookup  DraftLookup
	sender  StepSender
	rec     Recorder
	replies ReplyLookup
	hours   Hours
	clock   func() time.Time
}

type ServiceDeps struct {
	Repo    Repository
	Leads   LeadStore
	Drafter Drafter
	Lookup  DraftLookup
	Sender  StepSender
	Rec     Recorder
	Replies ReplyLookup
	Hours   Hours
}

func NewService(d ServiceDeps) *Service {
	h := d.Hours
	if h.To <= h.From {
		h = Hours{From: 9, To: 17, Loc: h.Loc}
	}
	return &Service{
		repo: d.Repo, leads: d.Leads, drafter: d.Drafter, lookup: d.Lookup,
		sender: d.Sender, rec: d.Rec, replies: d.Replies, hours: h, clock: time.Now,
	}
}

// Create validates and stores a draft campaign.
func (s *Service) Create(ctx context.Context, c Campaign) (Campaign, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if err := c.Validate(); err != nil {
		return Campaign{}, err
	}
	now := s.clock().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Campaign, error) {
	return s.repo.GetCampaign(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status) ([]Campaign, error) {
	return s.repo.ListCampaigns(ctx, status)
}

// Launch moves a draft campaign live and enrolls the audience at the entry
// step. Launching an already-launched campaign enrolls any leads not yet in
// the audience and merges the notes; existing enrollments keep their
// position, and LaunchedAt never moves. The audience size snapshot is
// refreshed on every launch. A completed campaign is left untouched.
func (s *Service) Launch(ctx context.Context, id string, leadIDs []string, notes string) (Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status == StatusCompleted {
		return c, nil
	}
	if c.Status != StatusDraft && c.Status != StatusPaused && c.Status != StatusLaunched {
		return Campaign{}, fmt.Errorf("%w: %s -> launched", ErrInvalidTransition, c.Status)
	}
	if err := c.Validate(); err != nil {
		return Campaign{}, err
	}

	now := s.clock().UTC()
	entry := c.EntryStep()
	for _, leadID := range leadIDs {
		l, err := s.leads.Lead(ctx, leadID)
		if err != nil || l.OptedOut || l.ContactEmail() == "" {
			continue
		}
		e := Enrollment{
			ID:            uuid.NewString(),
			CampaignID:    c.ID,
			LeadID:        leadID,
			StepID:        entry.ID,
			State:         EnrollActive,
			Outcome:       OutcomeNone,
			EnteredStepAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.CreateEnrollment(ctx, e); err != nil {
			if errors.Is(err, ErrAlreadyEnrolled) {
				continue
			}
			return Campaign{}, err
		}
		if s.rec != nil {
			_ = s.rec.RecordEvent(ctx, activity.Event{
				LeadID:     leadID,
				CampaignID: c.ID,
				Kind:       activity.KindEnrolled,
			})
		}
	}

	c.Status = StatusLaunched
	if c.LaunchedAt == nil {
		c.LaunchedAt = &now
	}
	if notes != "" {
		c.Notes = notes
	}
	size, err := s.repo.CountEnrollments(ctx, c.ID, "")
	if err != nil {
		return Campaign{}, err
	}
	c.AudienceSize = size
	c.UpdatedAt = now
	if err := s.repo.UpdateCampaign(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

// Pause stops the router from touching the campaign's enrollments.
func (s *Service) Pause(ctx context.Context, id string) (Campaign, error) {
	return s.transition(ctx, id, StatusLaunched, StatusPaused)
}

// Resume puts a paused campaign back under the router.
func (s *Service) Resume(ctx context.Context, id string) (Campaign, error) {
	return s.transition(ctx, id, StatusPaused, StatusLaunched)
}

func (s *Service) transition(ctx context.Context, id string, from, to Status) (Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status == to {
		return c, nil
	}
	if c.Status != from {
		return Campaign{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	c.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateCampaign(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

// Advance force-moves one enrollment to its step's default successor.
// Operators use it to unstick a lead without waiting for conditions.
func (s *Service) Advance(ctx context.Context, campaignID, leadID string) (Enrollment, error) {
	c, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return Enrollment{}, err
	}
	e, err := s.repo.GetEnrollment(ctx, campaignID, leadID)
	if err != nil {
		return Enrollment{}, err
	}
	if e.State != EnrollActive {
		return e, nil
	}
	st := c.Step(e.StepID)
	if st == nil {
		return Enrollment{}, fmt.Errorf("campaign: enrollment at unknown step %q", e.StepID)
	}
	target := st.Next
	if target == "" {
		target = ExitTarget
	}
	s.moveTo(&e, target, s.clock().UTC())
	if err := s.repo.UpdateEnrollment(ctx, e); err != nil {
		return Enrollment{}, err
	}
	return e, nil
}
