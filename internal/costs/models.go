package costs

import "time"

// Entry is an immutable, append-only record of one AI generation spend.
//
// Invariants:
// - Entries are never updated or deleted.
// - CostMicroUSD is derived from the token counts at append time and stored,
//   so historical averages survive pricing table changes.
type Entry struct {
	ID     string `json:"id" db:"id"`
	LeadID string `json:"lead_id" db:"lead_id"`

	// Slot identifies which generated artifact the spend belongs to
	// (first_touch, reply).
	Slot string `json:"slot" db:"slot"`

	Model            string `json:"model" db:"model"`
	PromptTokens     int    `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens" db:"completion_tokens"`

	// CostMicroUSD is the spend in integer micro-dollars (1e-6 USD).
	CostMicroUSD int64 `json:"cost_micro_usd" db:"cost_micro_usd"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// USD converts the stored micro-dollar amount for JSON boundaries.
func (e Entry) USD() float64 {
	return float64(e.CostMicroUSD) / 1e6
}
