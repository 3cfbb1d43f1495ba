package inbound

import (
	"context"
	"time"
)

// Mail is a raw message pulled from the mailbox before any processing.
// InReplyTo and References are the raw threading header values; either may
// be empty when the sender's client did not set them.
type Mail struct {
	MessageID  string
	InReplyTo  string
	References string
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Mailbox pulls fresh inbound mail. FetchNew returns mail newest-arrival
// last so ingestion processes in arrival order; an empty mailbox returns an
// empty slice, never an error.
type Mailbox interface {
	FetchNew(ctx context.Context, limit int) ([]Mail, error)
}
