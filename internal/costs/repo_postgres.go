package costs

import (
	"context"
	"database/sql"
)

// PostgresRepo persists ledger entries in the cost_entries table.
// The table is INSERT-only; no update or delete statements exist here.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO cost_entries (
  id, lead_id, slot, model, prompt_tokens, completion_tokens, cost_micro_usd, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.LeadID,
		e.Slot,
		e.Model,
		e.PromptTokens,
		e.CompletionTokens,
		e.CostMicroUSD,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Average(ctx context.Context) (int64, int, error) {
	const q = `
SELECT COALESCE(AVG(cost_micro_usd), 0)::bigint, COUNT(*)
FROM cost_entries
`
	var avg int64
	var n int
	if err := r.db.QueryRowContext(ctx, q).Scan(&avg, &n); err != nil {
		return 0, 0, err
	}
	return avg, n, nil
}
