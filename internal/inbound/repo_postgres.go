package inbound

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const messageColumns = `
  id, lead_id, from_email, subject, body, message_id, in_reply_to, thread_refs,
  intent, summary, reply_draft_id, outcome, decided_by, decided_at, received_at, created_at, updated_at`

// PostgresRepo stores inbound replies in the inbound_messages table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, m Message) error {
	const q = `
INSERT INTO inbound_messages (` + messageColumns + `
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`
	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.LeadID, m.FromEmail, m.Subject, m.Body, m.MessageID,
		nullIfEmpty(m.InReplyTo), nullIfEmpty(m.References),
		m.Intent, nullIfEmpty(m.Summary), nullIfEmpty(m.ReplyDraftID),
		m.Outcome, nullIfEmpty(m.DecidedBy), m.DecidedAt,
		m.ReceivedAt, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM inbound_messages WHERE id = $1`
	m, err := scanMessage(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresRepo) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM inbound_messages WHERE message_id = $1)`, messageID).Scan(&exists)
	return exists, err
}

// LatestIntent returns the intent label of the lead's most recent inbound
// message, or "" when the lead has never replied.
func (r *PostgresRepo) LatestIntent(ctx context.Context, leadID string) (string, error) {
	const q = `
SELECT intent FROM inbound_messages
WHERE lead_id = $1
ORDER BY received_at DESC
LIMIT 1
`
	var intent string
	err := r.db.QueryRowContext(ctx, q, leadID).Scan(&intent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return intent, err
}

func (r *PostgresRepo) ListPending(ctx context.Context, limit int) ([]Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM inbound_messages
WHERE outcome = 'pending'
ORDER BY received_at ASC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbound_messages WHERE outcome = 'pending'`).Scan(&n)
	return n, err
}

func (r *PostgresRepo) Decide(ctx context.Context, id string, outcome Outcome, decidedBy string, at time.Time) (Message, error) {
	const q = `
UPDATE inbound_messages
SET outcome = $2, decided_by = $3, decided_at = $4, updated_at = $4
WHERE id = $1 AND outcome = 'pending'
RETURNING ` + messageColumns

	m, err := scanMessage(r.db.QueryRowContext(ctx, q, id, outcome, decidedBy, at))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Message{}, err
	}

	m, err = r.Get(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if m.Outcome == outcome {
		return m, nil
	}
	return m, ErrAlreadyDecided
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (Message, error) {
	var (
		m         Message
		inReplyTo sql.NullString
		refs      sql.NullString
		summary   sql.NullString
		draftID   sql.NullString
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := s.Scan(
		&m.ID, &m.LeadID, &m.FromEmail, &m.Subject, &m.Body, &m.MessageID,
		&inReplyTo, &refs,
		&m.Intent, &summary, &draftID, &m.Outcome, &decidedBy, &decidedAt,
		&m.ReceivedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	m.InReplyTo = inReplyTo.String
	m.References = refs.String
	m.Summary = summary.String
	m.ReplyDraftID = draftID.String
	m.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		m.DecidedAt = &t
	}
	return m, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
