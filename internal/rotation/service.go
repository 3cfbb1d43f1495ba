package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoSenders = errors.New("rotation: no senders configured")
	// ErrAllCapped means every sender hit its daily cap; sending resumes
	// after the next midnight in the configured timezone.
	ErrAllCapped = errors.New("rotation: all senders at daily cap")
	// ErrDailyCapReached rejects a send that would exceed a sender's cap.
	ErrDailyCapReached = errors.New("rotation: daily cap reached")
)

// StateStore holds the rotation cursor and per-day send counters. Counters
// are keyed by day string, so the midnight rollover needs no reset job: a
// new day simply reads as zero.
type StateStore interface {
	// NextIndex advances the shared cursor and returns a value in [0, total).
	NextIndex(ctx context.Context, total int) (int, error)
	// AddSent charges count sends against the sender's day in one atomic
	// check-and-increment. A charge that would push the counter past cap is
	// refused whole: the counter stays unchanged and ok is false. The
	// returned value is the counter after the call either way.
	AddSent(ctx context.Context, email, day string, count, cap int) (n int, ok bool, err error)
	SentCount(ctx context.Context, email, day string) (int, error)
}

// Service rotates outbound sends across the sender pool, fair round-robin,
// bounded by a per-sender daily cap and a per-cycle batch maximum.
type Service struct {
	senders  []Sender
	dailyCap int
	batchMax int
	loc      *time.Location
	store    StateStore
	clock    func() time.Time
}

func NewService(senders []Sender, store StateStore, dailyCap, batchMax int, loc *time.Location) *Service {
	if dailyCap <= 0 {
		dailyCap = 300
	}
	if batchMax <= 0 {
		batchMax = 5
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{senders: senders, dailyCap: dailyCap, batchMax: batchMax, loc: loc, store: store, clock: time.Now}
}

// BatchMax is the most sends one dispatch cycle may perform.
func (s *Service) BatchMax() int { return s.batchMax }

// Day returns the rotation day key for the current instant, in the
// configured timezone.
func (s *Service) Day() string {
	return s.clock().In(s.loc).Format("2006-01-02")
}

// NextSender returns the next sender in rotation order, skipping senders
// already at their daily cap. ErrAllCapped when no sender has headroom.
func (s *Service) NextSender(ctx context.Context) (Sender, error) {
	if len(s.senders) == 0 {
		return Sender{}, ErrNoSenders
	}
	day := s.Day()
	for i := 0; i < len(s.senders); i++ {
		idx, err := s.store.NextIndex(ctx, len(s.senders))
		if err != nil {
			return Sender{}, err
		}
		sd := s.senders[idx]
		sent, err := s.store.SentCount(ctx, sd.Email, day)
		if err != nil {
			return Sender{}, err
		}
		if sent < s.dailyCap {
			return sd, nil
		}
	}
	return Sender{}, ErrAllCapped
}

// RecordSent charges count sends against the sender's daily budget. The
// check and increment are a single store operation, so concurrent
// dispatchers cannot race a sender past the cap. A charge that would
// exceed the cap is refused whole, leaving the counter unchanged, and the
// sends must not happen.
func (s *Service) RecordSent(ctx context.Context, email string, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("rotation: count must be positive, got %d", count)
	}
	n, ok, err := s.store.AddSent(ctx, email, s.Day(), count, s.dailyCap)
	if err != nil {
		return 0, err
	}
	if !ok {
		return n, ErrDailyCapReached
	}
	return n, nil
}

// RemainingToday reports a sender's unused budget for the current day.
func (s *Service) RemainingToday(ctx context.Context, email string) (int, error) {
	sent, err := s.store.SentCount(ctx, email, s.Day())
	if err != nil {
		return 0, err
	}
	if sent >= s.dailyCap {
		return 0, nil
	}
	return s.dailyCap - sent, nil
}

// Schedule reports the per-sender state for the current day.
func (s *Service) Schedule(ctx context.Context) ([]Status, error) {
	day := s.Day()
	out := make([]Status, 0, len(s.senders))
	for _, sd := range s.senders {
		sent, err := s.store.SentCount(ctx, sd.Email, day)
		if err != nil {
			return nil, err
		}
		remaining := s.dailyCap - sent
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Status{Sender: sd, SentToday: sent, Remaining: remaining, Day: day})
	}
	return out, nil
}
