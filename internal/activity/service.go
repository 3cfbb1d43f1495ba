package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/lead"
)

var ErrInvalidEvent = errors.New("activity: invalid event")

// Repository is the append-only event store.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByLead(ctx context.Context, leadID string, limit int) ([]Event, error)
}

// LeadStore applies score and recency updates to the lead row.
type LeadStore interface {
	Lead(ctx context.Context, id string) (lead.Lead, error)
	UpdateLead(ctx context.Context, l lead.Lead) error
}

// Publisher fans events out to interested consumers. Publishing is
// best-effort: a down broker never blocks the recording path.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Service records lead activity, scores it, and notifies downstream.
type Service struct {
	repo  Repository
	leads LeadStore
	pub   Publisher
	clock func() time.Time
}

func NewService(repo Repository, leads LeadStore, pub Publisher) *Service {
	return &Service{repo: repo, leads: leads, pub: pub, clock: time.Now}
}

// Record appends an event, bumps the lead's points and recency markers, and
// publishes the event.
func (s *Service) Record(ctx context.Context, leadID, kind string) error {
	return s.RecordEvent(ctx, Event{LeadID: leadID, Kind: kind})
}

// RecordEvent is Record with the caller supplying campaign context and
// metadata. ID, Points, and CreatedAt are filled here.
func (s *Service) RecordEvent(ctx context.Context, e Event) error {
	if e.LeadID == "" || e.Kind == "" {
		return ErrInvalidEvent
	}
	now := s.clock().UTC()
	e.ID = uuid.NewString()
	e.Points = PointsFor(e.Kind)
	e.CreatedAt = now
	if err := s.repo.Append(ctx, e); err != nil {
		return err
	}

	if l, err := s.leads.Lead(ctx, e.LeadID); err == nil {
		l.Points += e.Points
		// Only engagement moves the recency markers; bookkeeping kinds must
		// not shadow a lead's last real signal.
		if e.Points > 0 {
			l.LastActivityType = e.Kind
			t := now
			l.LastActivityAt = &t
		}
		l.UpdatedAt = now
		if err := s.leads.UpdateLead(ctx, l); err != nil {
			return err
		}
	}

	if s.pub != nil {
		_ = s.pub.Publish(ctx, e)
	}
	return nil
}

// History lists a lead's recent events, newest first.
func (s *Service) History(ctx context.Context, leadID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListByLead(ctx, leadID, limit)
}
