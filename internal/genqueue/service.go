package genqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/ai"
	"outreach-engine/internal/costs"
	"outreach-engine/internal/lead"
)

var (
	// ErrDraftExists signals a (lead, slot, step) collision on create.
	ErrDraftExists = errors.New("genqueue: draft already exists")
	ErrNotFound    = errors.New("genqueue: email not found")
	// ErrAlreadyDecided is returned when a decision targets a row whose
	// outcome already differs from the requested one.
	ErrAlreadyDecided = errors.New("genqueue: email already decided")
)

const defaultBatchSize = 10

// Repository is the persistence contract the generation queue needs.
// The concrete repos carry a wider method set shared with the review queue.
type Repository interface {
	// Create persists a new draft. Returns ErrDraftExists when the lead
	// already holds a draft in the same slot (and step, for campaign drafts).
	Create(ctx context.Context, e Email) error
	// LeadsWithoutDraft lists leads missing a draft in the slot, oldest
	// first, capped at limit. Opted-out and unreachable leads are excluded.
	LeadsWithoutDraft(ctx context.Context, slot Slot, limit int) ([]lead.Lead, error)
	CountLeadsWithoutDraft(ctx context.Context, slot Slot) (int, error)
	CountBySlot(ctx context.Context, slot Slot) (int, error)
	// Company resolves a lead's company; nil without error when absent.
	Company(ctx context.Context, id string) (*lead.Company, error)
}

// BatchError pairs a lead with the reason its draft was not produced.
type BatchError struct {
	LeadID  string `json:"lead_id"`
	Message string `json:"message"`
}

// BatchResult summarizes one GenerateBatch pass.
type BatchResult struct {
	Attempted         int          `json:"attempted"`
	Generated         int          `json:"generated"`
	PendingAfter      int          `json:"pending_after"`
	TotalCostMicroUSD int64        `json:"total_cost_micro_usd"`
	Errors            []BatchError `json:"errors,omitempty"`
}

// Stats is the point-in-time queue snapshot, recomputed from stored rows.
type Stats struct {
	PendingLeads      int    `json:"pending_leads"`
	GeneratedTotal    int    `json:"generated_total"`
	AvgCostMicroUSD   int64  `json:"avg_cost_micro_usd"`
	SampleSize        int    `json:"sample_size"`
	EstimatedSpendAll int64  `json:"estimated_spend_all_micro_usd"`
	Model             string `json:"model"`
}

// Service drives first-touch draft production and serves queue stats.
type Service struct {
	repo   Repository
	gen    ai.Generator
	ledger *costs.Ledger
	model  string
	clock  func() time.Time
}

func NewService(repo Repository, gen ai.Generator, ledger *costs.Ledger, model string) *Service {
	if model == "" {
		model = costs.DefaultModel
	}
	return &Service{repo: repo, gen: gen, ledger: ledger, model: model, clock: time.Now}
}

// GenerateBatch drafts first-touch emails for up to maxCount leads that do
// not have one yet, oldest lead first. One lead's failure never aborts the
// batch; each failure is reported per lead. A cancelled context stops the
// loop between leads, never mid-write.
func (s *Service) GenerateBatch(ctx context.Context, maxCount int) (BatchResult, error) {
	if maxCount <= 0 {
		maxCount = defaultBatchSize
	}

	var res BatchResult
	leads, err := s.repo.LeadsWithoutDraft(ctx, SlotFirstTouch, maxCount)
	if err != nil {
		return res, fmt.Errorf("list leads: %w", err)
	}

	for _, l := range leads {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		e, err := s.draftForLead(ctx, l, SlotFirstTouch, "", "", "")
		if err != nil {
			if errors.Is(err, ErrDraftExists) {
				// Lost a race with a concurrent batch; the lead is covered.
				res.Attempted--
				continue
			}
			res.Errors = append(res.Errors, BatchError{LeadID: l.ID, Message: err.Error()})
			if e.ID == "" {
				continue
			}
			// Draft landed; only the ledger write failed.
		}
		res.Generated++
		res.TotalCostMicroUSD += e.CostMicroUSD
	}

	pending, err := s.repo.CountLeadsWithoutDraft(ctx, SlotFirstTouch)
	if err != nil {
		return res, fmt.Errorf("count pending: %w", err)
	}
	res.PendingAfter = pending
	return res, nil
}

// DraftForStep produces a campaign-step draft for one lead. The campaign
// router calls this from touch steps; the resulting row enters the same
// review queue as first-touch drafts.
func (s *Service) DraftForStep(ctx context.Context, l lead.Lead, campaignID, stepID, instructions string) (Email, error) {
	return s.draftForLead(ctx, l, SlotFirstTouch, campaignID, stepID, instructions)
}

// DraftReply produces a reply-slot draft grounded on an inbound thread.
func (s *Service) DraftReply(ctx context.Context, l lead.Lead, threadText string) (Email, error) {
	e, err := s.draftForLeadThread(ctx, l, SlotReply, "", "", "", threadText)
	return e, err
}

func (s *Service) draftForLead(ctx context.Context, l lead.Lead, slot Slot, campaignID, stepID, instructions string) (Email, error) {
	return s.draftForLeadThread(ctx, l, slot, campaignID, stepID, instructions, "")
}

func (s *Service) draftForLeadThread(ctx context.Context, l lead.Lead, slot Slot, campaignID, stepID, instructions, threadText string) (Email, error) {
	if l.ContactEmail() == "" {
		return Email{}, fmt.Errorf("lead %s has no contact email", l.ID)
	}

	var company *lead.Company
	if l.CompanyID != "" {
		// A missing company row degrades the prompt, it does not block it.
		company, _ = s.repo.Company(ctx, l.CompanyID)
	}

	out, err := s.gen.GenerateEmail(ctx, ai.EmailRequest{
		LeadContext:      BuildLeadContext(l, company),
		StepInstructions: instructions,
		ThreadText:       threadText,
		Model:            s.model,
	})
	if err != nil {
		return Email{}, fmt.Errorf("generate: %w", err)
	}

	now := s.clock().UTC()
	e := Email{
		ID:               uuid.NewString(),
		LeadID:           l.ID,
		Slot:             slot,
		CampaignID:       campaignID,
		StepID:           stepID,
		Body:             out.Body,
		Model:            out.Model,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		Outcome:          OutcomePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	e.CostMicroUSD = costs.PriceTokens(e.Model, e.PromptTokens, e.CompletionTokens)

	if err := s.repo.Create(ctx, e); err != nil {
		return Email{}, err
	}

	// The draft is durable at this point; a ledger gap only skews reporting.
	if s.ledger != nil {
		if _, lerr := s.ledger.Record(ctx, l.ID, string(slot), e.Model, e.PromptTokens, e.CompletionTokens); lerr != nil {
			return e, fmt.Errorf("cost ledger: %w", lerr)
		}
	}
	return e, nil
}

// QueueStats recomputes the snapshot from stored rows and the cost ledger.
func (s *Service) QueueStats(ctx context.Context) (Stats, error) {
	pending, err := s.repo.CountLeadsWithoutDraft(ctx, SlotFirstTouch)
	if err != nil {
		return Stats{}, err
	}
	generated, err := s.repo.CountBySlot(ctx, SlotFirstTouch)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{PendingLeads: pending, GeneratedTotal: generated, Model: s.model}
	if s.ledger != nil {
		avg, n, err := s.ledger.AverageCost(ctx, s.model)
		if err != nil {
			return Stats{}, err
		}
		st.AvgCostMicroUSD = avg
		st.SampleSize = n
		st.EstimatedSpendAll = avg * int64(pending+generated)
	}
	return st, nil
}
