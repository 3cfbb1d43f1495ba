package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreach-engine/internal/crm"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/lead"
)

var (
	// ErrQueueEmpty means no pending draft is claimable right now. Items
	// claimed by other reviewers count as unavailable, not empty, but the
	// caller cannot tell the difference and should just poll again later.
	ErrQueueEmpty       = errors.New("approval: queue empty")
	ErrReviewerRequired = errors.New("approval: reviewer required")
	ErrUnknownDecision  = errors.New("approval: unknown decision")
	ErrBadScores        = errors.New("approval: scores out of range")
)

// Decision is a reviewer verdict on a draft.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}

func (d Decision) outcome() genqueue.Outcome {
	if d == DecisionApprove {
		return genqueue.OutcomeApproved
	}
	return genqueue.OutcomeRejected
}

// DraftStore is the slice of the draft repository the review queue needs.
type DraftStore interface {
	ListPending(ctx context.Context, slot genqueue.Slot, limit int) ([]genqueue.Email, error)
	CountPending(ctx context.Context, slot genqueue.Slot) (int, error)
	Get(ctx context.Context, id string) (genqueue.Email, error)
	Decide(ctx context.Context, id string, outcome genqueue.Outcome, decidedBy, editedBody string, at time.Time) (genqueue.Email, error)
	SetScores(ctx context.Context, id string, sc genqueue.Scores, at time.Time) error
	MarkSent(ctx context.Context, id, messageID string, at time.Time) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
	ListApprovedUnsynced(ctx context.Context, limit int) ([]genqueue.Email, error)
	Lead(ctx context.Context, id string) (lead.Lead, error)
	Company(ctx context.Context, id string) (*lead.Company, error)
}

// Item is one claimed draft plus the lead context a reviewer sees.
type Item struct {
	Email     genqueue.Email `json:"email"`
	Lead      lead.Lead      `json:"lead"`
	Remaining int            `json:"remaining"`
}

// DecideResult reports the recorded decision and the CRM sync attempt.
// A failed sync never unwinds the decision; SyncError carries the reason
// and a later retry pass picks the row up again.
type DecideResult struct {
	Email     genqueue.Email `json:"email"`
	Synced    bool           `json:"synced"`
	SyncError string         `json:"sync_error,omitempty"`
}

// SyncReport summarizes one retry pass over approved-but-unsynced rows.
type SyncReport struct {
	Attempted int      `json:"attempted"`
	Synced    int      `json:"synced"`
	Errors    []string `json:"errors,omitempty"`
}

const (
	defaultClaimTTL = 5 * time.Minute
	claimScanLimit  = 25
	syncBatchLimit  = 50
)

// Service serves the human review queue: exclusive claims on pending drafts,
// idempotent decisions, and the decoupled CRM sync for approvals.
type Service struct {
	drafts   DraftStore
	claims   ClaimStore
	crm      crm.Client
	claimTTL time.Duration
	clock    func() time.Time
}

func NewService(drafts DraftStore, claims ClaimStore, crmClient crm.Client, claimTTL time.Duration) *Service {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &Service{drafts: drafts, claims: claims, crm: crmClient, claimTTL: claimTTL, clock: time.Now}
}

// Next claims and returns the oldest pending draft not held by another
// reviewer. The same reviewer polling again gets the same item back with a
// refreshed lease. ErrQueueEmpty when nothing is claimable.
func (s *Service) Next(ctx context.Context, reviewer string) (Item, error) {
	if reviewer == "" {
		return Item{}, ErrReviewerRequired
	}
	pending, err := s.drafts.ListPending(ctx, genqueue.SlotFirstTouch, claimScanLimit)
	if err != nil {
		return Item{}, err
	}
	for _, e := range pending {
		ok, err := s.claims.Acquire(ctx, e.ID, reviewer, s.claimTTL)
		if err != nil {
			return Item{}, err
		}
		if !ok {
			continue
		}
		// The row may have been decided between listing and claiming.
		cur, err := s.drafts.Get(ctx, e.ID)
		if err != nil || cur.Outcome != genqueue.OutcomePending {
			_ = s.claims.Release(ctx, e.ID, reviewer)
			continue
		}
		return s.buildItem(ctx, cur)
	}
	return Item{}, ErrQueueEmpty
}

func (s *Service) buildItem(ctx context.Context, e genqueue.Email) (Item, error) {
	it := Item{Email: e}
	if l, err := s.drafts.Lead(ctx, e.LeadID); err == nil {
		it.Lead = l
	}
	if n, err := s.drafts.CountPending(ctx, e.Slot); err == nil {
		it.Remaining = n
	}
	return it, nil
}

// Decide records a verdict. Repeating the same verdict is a no-op success;
// a conflicting verdict on a decided row surfaces genqueue.ErrAlreadyDecided.
// On approval the CRM upsert runs after the decision is durable. Scores are
// optional reviewer quality marks stored alongside the verdict.
func (s *Service) Decide(ctx context.Context, reviewer, emailID string, d Decision, editedBody string, scores *genqueue.Scores) (DecideResult, error) {
	if reviewer == "" {
		return DecideResult{}, ErrReviewerRequired
	}
	if d != DecisionApprove && d != DecisionReject {
		return DecideResult{}, ErrUnknownDecision
	}
	if scores != nil && !scores.Valid() {
		return DecideResult{}, ErrBadScores
	}

	e, err := s.drafts.Decide(ctx, emailID, d.outcome(), reviewer, editedBody, s.clock().UTC())
	if err != nil {
		return DecideResult{Email: e}, err
	}
	_ = s.claims.Release(ctx, emailID, reviewer)
	if scores != nil {
		if err := s.drafts.SetScores(ctx, emailID, *scores, s.clock().UTC()); err == nil {
			e.Scores = scores
		}
	}

	res := DecideResult{Email: e, Synced: e.SyncedAt != nil}
	if e.Outcome == genqueue.OutcomeApproved && e.SyncedAt == nil {
		if err := s.syncOne(ctx, e); err != nil {
			res.SyncError = err.Error()
			return res, nil
		}
		res.Synced = true
	}
	return res, nil
}

// RetrySync re-attempts the CRM upsert for approved drafts whose sync
// previously failed.
func (s *Service) RetrySync(ctx context.Context) (SyncReport, error) {
	rows, err := s.drafts.ListApprovedUnsynced(ctx, syncBatchLimit)
	if err != nil {
		return SyncReport{}, err
	}
	var rep SyncReport
	for _, e := range rows {
		if ctx.Err() != nil {
			break
		}
		rep.Attempted++
		if err := s.syncOne(ctx, e); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", e.ID, err))
			continue
		}
		rep.Synced++
	}
	return rep, nil
}

func (s *Service) syncOne(ctx context.Context, e genqueue.Email) error {
	l, err := s.drafts.Lead(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("lead %s: %w", e.LeadID, err)
	}
	up := crm.Upsert{
		Email:          l.ContactEmail(),
		FirstName:      l.FirstName,
		LastName:       l.LastName,
		SuggestedBody:  e.ReviewBody(),
		ApprovalStatus: string(e.Outcome),
	}
	if l.CompanyID != "" {
		if c, err := s.drafts.Company(ctx, l.CompanyID); err == nil && c != nil {
			up.Company = c.Name
		}
	}
	if err := s.crm.UpsertContact(ctx, up); err != nil {
		return err
	}
	return s.drafts.MarkSynced(ctx, e.ID, s.clock().UTC())
}
