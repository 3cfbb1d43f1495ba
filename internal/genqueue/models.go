package genqueue

import "time"

// Slot identifies which generated artifact a row occupies for a lead.
// First-touch and reply slots are independent: a lead holds at most one
// email per slot (per campaign step for campaign-driven drafts).
type Slot string

const (
	SlotFirstTouch Slot = "first_touch"
	SlotReply      Slot = "reply"
)

// Outcome is the tri-state review result of a generated email.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Email is an AI-generated draft awaiting review.
//
// Invariants:
// - At most one row per (lead, slot, step).
// - Once Outcome leaves pending the row is immutable to the queue; re-review
//   requires an explicit re-open which this engine does not model.
// - Body always keeps the AI original; a reviewer's rewrite lands in
//   EditedBody so the pair survives for audit.
type Email struct {
	ID     string `json:"id" db:"id"`
	LeadID string `json:"lead_id" db:"lead_id"`
	Slot   Slot   `json:"slot" db:"slot"`

	// CampaignID/StepID are set for drafts produced by campaign touch
	// steps; empty for the plain first-touch queue.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	StepID     string `json:"step_id,omitempty" db:"step_id"`

	Subject    string `json:"subject,omitempty" db:"subject"`
	Body       string `json:"body" db:"body"`
	EditedBody string `json:"edited_body,omitempty" db:"edited_body"`

	Model            string `json:"model" db:"model"`
	PromptTokens     int    `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens" db:"completion_tokens"`
	CostMicroUSD     int64  `json:"cost_micro_usd" db:"cost_micro_usd"`

	Outcome   Outcome    `json:"outcome" db:"outcome"`
	DecidedBy string     `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	Scores    *Scores    `json:"scores,omitempty" db:"scores"`

	// SentMessageID is the RFC 5322 Message-ID the dispatcher stamped on the
	// delivered mail. Inbound replies carrying it in In-Reply-To or
	// References link back to this draft even when the reply comes from an
	// address the lead store does not know.
	SentMessageID string `json:"sent_message_id,omitempty" db:"sent_message_id"`

	// SyncedAt records a successful CRM upsert after approval. Decision
	// recording and CRM sync are deliberately decoupled.
	SyncedAt *time.Time `json:"synced_at,omitempty" db:"synced_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReviewBody returns the text a send should use: the human edit when present,
// otherwise the AI original.
func (e Email) ReviewBody() string {
	if e.EditedBody != "" {
		return e.EditedBody
	}
	return e.Body
}

// Scores are optional reviewer quality marks, each on a 0..7 scale.
type Scores struct {
	StructureAndClarity int `json:"structure_and_clarity"`
	Deliverability      int `json:"deliverability"`
	ValueProposition    int `json:"value_proposition"`
	CustomerReaction    int `json:"customer_reaction"`
}

const scoreMax = 7

func (s Scores) Valid() bool {
	for _, v := range []int{s.StructureAndClarity, s.Deliverability, s.ValueProposition, s.CustomerReaction} {
		if v < 0 || v > scoreMax {
			return false
		}
	}
	return true
}
