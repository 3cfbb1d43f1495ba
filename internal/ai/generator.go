package ai

import (
	"context"
	"errors"
)

// Generator is the AI generation collaborator. Any non-success reply from the
// provider is surfaced as an error and treated by callers as a per-item
// failure, never as a batch abort.
//
// Implementations must apply a bounded timeout; a timeout is recoverable
// (the item stays pending), so it is reported as ErrTimeout rather than a
// generic failure.
type Generator interface {
	// GenerateEmail drafts an outbound email body for the given context.
	GenerateEmail(ctx context.Context, req EmailRequest) (EmailResult, error)

	// ClassifyIntent labels a reply thread with one of the allowed labels,
	// returning "other" when nothing fits.
	ClassifyIntent(ctx context.Context, thread string, allowed []string) (string, error)

	// SummarizeThread produces a short reviewer-facing summary of a thread.
	SummarizeThread(ctx context.Context, thread string) (string, error)
}

var (
	ErrTimeout = errors.New("ai: generator timed out")
	ErrEmpty   = errors.New("ai: empty response from model")
)

// EmailRequest carries everything the generator needs to draft one email.
type EmailRequest struct {
	// SystemPrompt sets the generation rules; empty selects the default
	// first-touch prompt.
	SystemPrompt string
	// LeadContext is the rendered lead + company summary.
	LeadContext string
	// StepInstructions carries per-step tone/CTA/variant notes, if any.
	StepInstructions string
	// ThreadText is the conversation so far for reply drafts; empty for
	// first touches.
	ThreadText string
	// Model overrides the configured default when set.
	Model string
}

// EmailResult is the generated body plus the usage the cost ledger needs.
type EmailResult struct {
	Body             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}
