package costs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEntry = errors.New("costs: invalid entry")

// Repository is the persistence contract for the cost ledger.
// Append-only: there are no update or delete methods.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	// Average returns the mean cost in micro-USD across all entries and the
	// sample size. Zero sample size means the ledger is empty.
	Average(ctx context.Context) (avgMicroUSD int64, sampleSize int, err error)
}

// Ledger records token usage and spend per generated artifact.
// Callers should treat ledger writes as best-effort relative to the artifact
// itself: a generated email without a ledger row is a gap in reporting, not
// a corrupt draft.
type Ledger struct {
	repo  Repository
	clock func() time.Time
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, clock: time.Now}
}

// Record prices the token counts and appends an entry. Returns the stored
// entry so callers can surface the cost.
func (l *Ledger) Record(ctx context.Context, leadID, slot, model string, promptTokens, completionTokens int) (Entry, error) {
	if l.repo == nil {
		return Entry{}, errors.New("costs: repository not configured")
	}
	if leadID == "" || slot == "" {
		return Entry{}, ErrInvalidEntry
	}
	if model == "" {
		model = DefaultModel
	}

	e := Entry{
		ID:               uuid.NewString(),
		LeadID:           leadID,
		Slot:             slot,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostMicroUSD:     PriceTokens(model, promptTokens, completionTokens),
		CreatedAt:        l.clock().UTC(),
	}
	if err := l.repo.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// AverageCost returns the mean recorded cost, falling back to a pricing-table
// estimate when the ledger is empty (sample size 0 signals the fallback).
func (l *Ledger) AverageCost(ctx context.Context, model string) (avgMicroUSD int64, sampleSize int, err error) {
	if l.repo == nil {
		return 0, 0, errors.New("costs: repository not configured")
	}
	avg, n, err := l.repo.Average(ctx)
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		return EstimateDefault(model), 0, nil
	}
	return avg, n, nil
}
