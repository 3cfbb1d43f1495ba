package crm

import (
	"context"
	"errors"
)

// Upsert is the synthesized contact payload pushed on approval. Keyed by the
// lead's contact email; the CRM merges into an existing contact or creates
// one.
type Upsert struct {
	Email     string
	FirstName string
	LastName  string
	Company   string

	// SuggestedBody lands in the CRM custom field ai_email_2 and
	// ApprovalStatus in email_2_approval.
	SuggestedBody  string
	ApprovalStatus string
}

// Client is the CRM collaborator. The engine never assumes synchronous
// consistency: a failed call is reported to the caller and retried
// out-of-band, never by re-running generation.
type Client interface {
	UpsertContact(ctx context.Context, u Upsert) error
	// DeleteContact removes a contact by email. Irreversible from the
	// engine's perspective.
	DeleteContact(ctx context.Context, email string) error
}

var (
	ErrTimeout     = errors.New("crm: request timed out")
	ErrUnavailable = errors.New("crm: service unavailable")
)
