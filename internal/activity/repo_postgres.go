package activity

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresRepo persists events in the lead_activities table, append-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	meta, err := metadataJSON(e.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO lead_activities (id, lead_id, campaign_id, kind, points, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.LeadID, nullIfEmpty(e.CampaignID), e.Kind, e.Points, meta, e.CreatedAt)
	return err
}

func (r *PostgresRepo) ListByLead(ctx context.Context, leadID string, limit int) ([]Event, error) {
	const q = `
SELECT id, lead_id, COALESCE(campaign_id, ''), kind, points, metadata, created_at
FROM lead_activities
WHERE lead_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &e.CampaignID, &e.Kind, &e.Points, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func metadataJSON(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
