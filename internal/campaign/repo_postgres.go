package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo stores campaigns (steps as jsonb) and enrollments.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) CreateCampaign(ctx context.Context, c Campaign) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO campaigns (id, name, status, category, notes, steps, audience_size, launched_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.Name, c.Status, c.Category, c.Notes, steps, c.AudienceSize,
		c.LaunchedAt, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, name, status, COALESCE(category, ''), COALESCE(notes, ''), steps,
       audience_size, launched_at, created_at, updated_at
FROM campaigns WHERE id = $1
`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) UpdateCampaign(ctx context.Context, c Campaign) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return err
	}
	const q = `
UPDATE campaigns
SET name = $2, status = $3, category = $4, notes = $5, steps = $6,
    audience_size = $7, launched_at = $8, updated_at = $9
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID, c.Name, c.Status, c.Category, c.Notes, steps,
		c.AudienceSize, c.LaunchedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListCampaigns(ctx context.Context, status Status) ([]Campaign, error) {
	const q = `
SELECT id, name, status, COALESCE(category, ''), COALESCE(notes, ''), steps,
       audience_size, launched_at, created_at, updated_at
FROM campaigns
WHERE $1 = '' OR status = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CreateEnrollment(ctx context.Context, e Enrollment) error {
	const q = `
INSERT INTO campaign_enrollments (
  id, campaign_id, lead_id, step_id, state, outcome, wait_until, entered_step_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	outcome := e.Outcome
	if outcome == "" {
		outcome = OutcomeNone
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.CampaignID, e.LeadID, e.StepID, e.State, outcome,
		e.WaitUntil, e.EnteredStepAt, e.CreatedAt, e.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyEnrolled
	}
	return err
}

func (r *PostgresRepo) UpdateEnrollment(ctx context.Context, e Enrollment) error {
	const q = `
UPDATE campaign_enrollments
SET step_id = $2, state = $3, outcome = $4, wait_until = $5, entered_step_at = $6, updated_at = $7
WHERE id = $1
`
	outcome := e.Outcome
	if outcome == "" {
		outcome = OutcomeNone
	}
	res, err := r.db.ExecContext(ctx, q,
		e.ID, e.StepID, e.State, outcome, e.WaitUntil, e.EnteredStepAt, e.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) GetEnrollment(ctx context.Context, campaignID, leadID string) (Enrollment, error) {
	const q = enrollmentSelect + ` WHERE campaign_id = $1 AND lead_id = $2`
	e, err := scanEnrollment(r.db.QueryRowContext(ctx, q, campaignID, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return Enrollment{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) DueEnrollments(ctx context.Context, campaignID string, now time.Time, limit int) ([]Enrollment, error) {
	const q = enrollmentSelect + `
WHERE campaign_id = $1 AND state = 'active'
  AND (wait_until IS NULL OR wait_until <= $2)
ORDER BY created_at ASC
LIMIT $3
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountEnrollments(ctx context.Context, campaignID string, state EnrollState) (int, error) {
	const q = `
SELECT COUNT(*) FROM campaign_enrollments
WHERE campaign_id = $1 AND ($2 = '' OR state = $2)
`
	var n int
	err := r.db.QueryRowContext(ctx, q, campaignID, string(state)).Scan(&n)
	return n, err
}

const enrollmentSelect = `
SELECT id, campaign_id, lead_id, step_id, state, outcome, wait_until, entered_step_at, created_at, updated_at
FROM campaign_enrollments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s rowScanner) (Campaign, error) {
	var (
		c          Campaign
		steps      []byte
		launchedAt sql.NullTime
	)
	err := s.Scan(&c.ID, &c.Name, &c.Status, &c.Category, &c.Notes, &steps,
		&c.AudienceSize, &launchedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Campaign{}, err
	}
	if err := json.Unmarshal(steps, &c.Steps); err != nil {
		return Campaign{}, err
	}
	if launchedAt.Valid {
		t := launchedAt.Time
		c.LaunchedAt = &t
	}
	return c, nil
}

func scanEnrollment(s rowScanner) (Enrollment, error) {
	var (
		e         Enrollment
		waitUntil sql.NullTime
	)
	err := s.Scan(&e.ID, &e.CampaignID, &e.LeadID, &e.StepID, &e.State, &e.Outcome,
		&waitUntil, &e.EnteredStepAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Enrollment{}, err
	}
	if waitUntil.Valid {
		t := waitUntil.Time
		e.WaitUntil = &t
	}
	return e, nil
}
