package inbound

import "time"

// Intent is the classified disposition of an inbound reply.
type Intent string

const (
	IntentInterested    Intent = "interested"
	IntentNotInterested Intent = "not_interested"
	IntentUnsubscribe   Intent = "unsubscribe"
	IntentOther         Intent = "other"
)

// AllowedIntents is the closed label set the classifier must pick from.
var AllowedIntents = []string{
	string(IntentInterested),
	string(IntentNotInterested),
	string(IntentUnsubscribe),
	string(IntentOther),
}

// Outcome is the reviewer's verdict on an inbound item. Delete goes beyond
// reject: the contact is removed from the CRM as well.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeleted  Outcome = "deleted"
)

// Message is one ingested inbound reply plus everything a reviewer needs:
// the classified intent, an AI thread summary, and a suggested reply draft.
//
// Invariants:
// - MessageID is unique; re-ingesting the same mail is a no-op.
// - Outcome transitions only out of pending, once.
type Message struct {
	ID        string `json:"id" db:"id"`
	LeadID    string `json:"lead_id,omitempty" db:"lead_id"`
	FromEmail string `json:"from_email" db:"from_email"`
	Subject   string `json:"subject" db:"subject"`
	Body      string `json:"body" db:"body"`

	// MessageID is the RFC 5322 Message-ID of the inbound mail. InReplyTo
	// and References carry the threading headers, so the reply can be tied
	// back to the outbound message that provoked it.
	MessageID  string `json:"message_id" db:"message_id"`
	InReplyTo  string `json:"in_reply_to,omitempty" db:"in_reply_to"`
	References string `json:"references,omitempty" db:"thread_refs"`

	Intent  Intent `json:"intent" db:"intent"`
	Summary string `json:"summary,omitempty" db:"summary"`

	// ReplyDraftID links the suggested reply in the draft store; empty when
	// the intent made a reply pointless.
	ReplyDraftID string `json:"reply_draft_id,omitempty" db:"reply_draft_id"`

	Outcome   Outcome    `json:"outcome" db:"outcome"`
	DecidedBy string     `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt *time.Time `json:"decided_at,omitempty" db:"decided_at"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
