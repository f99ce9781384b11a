package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/internal/calls"
)

// PostgresRepo reads the call_sessions and balance_ledger_entries tables
// owned by the calls and billing packages.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

var _ Repository = (*PostgresRepo)(nil)

func (r *PostgresRepo) ListCalls(ctx context.Context, from, to time.Time, userID string) ([]calls.CallSession, error) {
	query := `
		SELECT call_id, inviter_id, state, initiated_at, duration_seconds,
			ring_duration_ms, was_connected, deduction_status
		FROM call_sessions
		WHERE initiated_at >= $1 AND initiated_at < $2
			AND ($3 = '' OR inviter_id = $3)`
	rows, err := r.db.QueryContext(ctx, query, from, to, userID)
	if err != nil {
		return nil, fmt.Errorf("list calls for report: %w", err)
	}
	defer rows.Close()

	var out []calls.CallSession
	for rows.Next() {
		var c calls.CallSession
		if err := rows.Scan(&c.CallID, &c.InviterID, &c.State, &c.InitiatedAt,
			&c.DurationSeconds, &c.RingDurationMs, &c.WasConnected, &c.DeductionStatus); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListLedger(ctx context.Context, from, to time.Time, userID string) ([]billing.LedgerEntry, error) {
	query := `
		SELECT id, user_id, entry_type, previous_total, new_total, delta, created_at
		FROM balance_ledger_entries
		WHERE created_at >= $1 AND created_at < $2
			AND ($3 = '' OR user_id = $3)`
	rows, err := r.db.QueryContext(ctx, query, from, to, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger for report: %w", err)
	}
	defer rows.Close()

	var out []billing.LedgerEntry
	for rows.Next() {
		var e billing.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.PreviousTotal, &e.NewTotal, &e.Delta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
