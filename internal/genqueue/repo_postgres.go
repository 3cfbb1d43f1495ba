package genqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"outreach-engine/internal/lead"
)

const emailColumns = `
  id, lead_id, slot, campaign_id, step_id, subject, body, edited_body,
  model, prompt_tokens, completion_tokens, cost_micro_usd,
  outcome, decided_by, decided_at, scores, sent_message_id, synced_at, created_at, updated_at`

// PostgresRepo stores drafts in generated_emails and reads leads/companies
// from the tables the surrounding CRM application owns.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, e Email) error {
	const q = `
INSERT INTO generated_emails (` + emailColumns + `
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.LeadID, e.Slot, nullStr(e.CampaignID), nullStr(e.StepID),
		nullStr(e.Subject), e.Body, nullStr(e.EditedBody),
		e.Model, e.PromptTokens, e.CompletionTokens, e.CostMicroUSD,
		e.Outcome, nullStr(e.DecidedBy), e.DecidedAt, scoresJSON(e.Scores),
		nullStr(e.SentMessageID), e.SyncedAt,
		e.CreatedAt, e.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDraftExists
	}
	return err
}

func (r *PostgresRepo) LeadsWithoutDraft(ctx context.Context, slot Slot, limit int) ([]lead.Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM leads l
WHERE NOT l.opted_out
  AND COALESCE(NULLIF(l.work_email, ''), NULLIF(l.email, '')) IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM generated_emails ge
    WHERE ge.lead_id = l.id AND ge.slot = $1
  )
ORDER BY l.created_at ASC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, slot, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountLeadsWithoutDraft(ctx context.Context, slot Slot) (int, error) {
	const q = `
SELECT COUNT(*)
FROM leads l
WHERE NOT l.opted_out
  AND COALESCE(NULLIF(l.work_email, ''), NULLIF(l.email, '')) IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM generated_emails ge
    WHERE ge.lead_id = l.id AND ge.slot = $1
  )
`
	var n int
	err := r.db.QueryRowContext(ctx, q, slot).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountBySlot(ctx context.Context, slot Slot) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generated_emails WHERE slot = $1`, slot).Scan(&n)
	return n, err
}

func (r *PostgresRepo) Company(ctx context.Context, id string) (*lead.Company, error) {
	const q = `
SELECT id, name, COALESCE(employees_amount, ''), COALESCE(technologies, ''),
       COALESCE(industry, ''), COALESCE(country, ''), created_at, updated_at
FROM companies WHERE id = $1
`
	var c lead.Company
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.Name, &c.EmployeesAmount, &c.Technologies,
		&c.Industry, &c.Country, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepo) Lead(ctx context.Context, id string) (lead.Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads l WHERE l.id = $1`
	l, err := scanLead(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, ErrNotFound
	}
	return l, err
}

func (r *PostgresRepo) LeadByEmail(ctx context.Context, email string) (lead.Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads l WHERE l.email = $1 OR l.work_email = $1 LIMIT 1`
	l, err := scanLead(r.db.QueryRowContext(ctx, q, email))
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, ErrNotFound
	}
	return l, err
}

func (r *PostgresRepo) UpdateLead(ctx context.Context, l lead.Lead) error {
	const q = `
UPDATE leads
SET opted_out = $2, opted_out_at = $3, points = $4,
    last_activity_at = $5, last_activity_type = NULLIF($6, ''), updated_at = $7
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		l.ID, l.OptedOut, l.OptedOutAt, l.Points,
		l.LastActivityAt, l.LastActivityType, l.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CountPending(ctx context.Context, slot Slot) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generated_emails WHERE slot = $1 AND outcome = 'pending'`, slot).Scan(&n)
	return n, err
}

func (r *PostgresRepo) ListApprovedUnsynced(ctx context.Context, limit int) ([]Email, error) {
	const q = `
SELECT ` + emailColumns + `
FROM generated_emails
WHERE outcome = 'approved' AND synced_at IS NULL
ORDER BY created_at ASC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Email, error) {
	const q = `SELECT ` + emailColumns + ` FROM generated_emails WHERE id = $1`
	e, err := scanEmail(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Email{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) ListPending(ctx context.Context, slot Slot, limit int) ([]Email, error) {
	const q = `
SELECT ` + emailColumns + `
FROM generated_emails
WHERE slot = $1 AND outcome = 'pending'
ORDER BY created_at ASC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, slot, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Decide flips a pending row to the given outcome with a single conditional
// update, so concurrent reviewers cannot both win.
func (r *PostgresRepo) Decide(ctx context.Context, id string, outcome Outcome, decidedBy, editedBody string, at time.Time) (Email, error) {
	const q = `
UPDATE generated_emails
SET outcome = $2,
    decided_by = $3,
    edited_body = COALESCE(NULLIF($4, ''), edited_body),
    decided_at = $5,
    updated_at = $5
WHERE id = $1 AND outcome = 'pending'
RETURNING ` + emailColumns

	e, err := scanEmail(r.db.QueryRowContext(ctx, q, id, outcome, decidedBy, editedBody, at))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Email{}, err
	}

	// Lost the conditional update: missing row or already decided.
	e, err = r.Get(ctx, id)
	if err != nil {
		return Email{}, err
	}
	if e.Outcome == outcome {
		return e, nil
	}
	return e, ErrAlreadyDecided
}

func (r *PostgresRepo) SetScores(ctx context.Context, id string, sc Scores, at time.Time) error {
	buf, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE generated_emails SET scores = $2, updated_at = $3 WHERE id = $1`, id, buf, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) MarkSent(ctx context.Context, id, messageID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE generated_emails SET sent_message_id = $2, updated_at = $3 WHERE id = $1`,
		id, messageID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) FindBySentMessageID(ctx context.Context, messageID string) (Email, error) {
	const q = `SELECT ` + emailColumns + ` FROM generated_emails WHERE sent_message_id = $1`
	e, err := scanEmail(r.db.QueryRowContext(ctx, q, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Email{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE generated_emails SET synced_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) FindByLeadStep(ctx context.Context, leadID, stepID string) (Email, error) {
	const q = `SELECT ` + emailColumns + ` FROM generated_emails WHERE lead_id = $1 AND step_id = $2`
	e, err := scanEmail(r.db.QueryRowContext(ctx, q, leadID, stepID))
	if errors.Is(err, sql.ErrNoRows) {
		return Email{}, ErrNotFound
	}
	return e, err
}

const leadColumns = `
  l.id, COALESCE(l.email, ''), COALESCE(l.work_email, ''),
  COALESCE(l.first_name, ''), COALESCE(l.last_name, ''),
  COALESCE(l.job_title, ''), COALESCE(l.seniority, ''),
  COALESCE(l.departments, ''), COALESCE(l.industries, ''),
  COALESCE(l.country, ''), COALESCE(l.profile_summary, ''),
  COALESCE(l.company_id::text, ''), l.opted_out, l.opted_out_at, l.points,
  l.last_activity_at, COALESCE(l.last_activity_type, ''),
  l.created_at, l.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(s rowScanner) (lead.Lead, error) {
	var (
		l          lead.Lead
		optedOutAt sql.NullTime
		lastActAt  sql.NullTime
	)
	err := s.Scan(
		&l.ID, &l.Email, &l.WorkEmail, &l.FirstName, &l.LastName,
		&l.JobTitle, &l.Seniority, &l.Departments, &l.Industries,
		&l.Country, &l.ProfileSummary, &l.CompanyID, &l.OptedOut, &optedOutAt, &l.Points,
		&lastActAt, &l.LastActivityType,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if optedOutAt.Valid {
		t := optedOutAt.Time
		l.OptedOutAt = &t
	}
	if lastActAt.Valid {
		t := lastActAt.Time
		l.LastActivityAt = &t
	}
	return l, err
}

func scanEmail(s rowScanner) (Email, error) {
	var (
		e          Email
		campaignID sql.NullString
		stepID     sql.NullString
		subject    sql.NullString
		edited     sql.NullString
		decidedBy  sql.NullString
		decidedAt  sql.NullTime
		scoresBuf  []byte
		sentMsgID  sql.NullString
		syncedAt   sql.NullTime
	)
	err := s.Scan(
		&e.ID, &e.LeadID, &e.Slot, &campaignID, &stepID, &subject, &e.Body, &edited,
		&e.Model, &e.PromptTokens, &e.CompletionTokens, &e.CostMicroUSD,
		&e.Outcome, &decidedBy, &decidedAt, &scoresBuf, &sentMsgID, &syncedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return Email{}, err
	}
	if len(scoresBuf) > 0 {
		var sc Scores
		if err := json.Unmarshal(scoresBuf, &sc); err != nil {
			return Email{}, err
		}
		e.Scores = &sc
	}
	e.CampaignID = campaignID.String
	e.StepID = stepID.String
	e.Subject = subject.String
	e.EditedBody = edited.String
	e.DecidedBy = decidedBy.String
	e.SentMessageID = sentMsgID.String
	if decidedAt.Valid {
		t := decidedAt.Time
		e.DecidedAt = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		e.SyncedAt = &t
	}
	return e, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scoresJSON(sc *Scores) any {
	if sc == nil {
		return nil
	}
	buf, _ := json.Marshal(sc)
	return buf
}
