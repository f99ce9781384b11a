package calls

// NOTE: assumes tables
//
//	call_sessions(call_id text primary key, inviter_id text, invitee_id text,
//	  call_type text, state text, previous_state text,
//	  initiated_at timestamptz, ringing_at timestamptz, accepted_at timestamptz,
//	  rejected_at timestamptz, ended_at timestamptz,
//	  duration_seconds int, ring_duration_ms bigint, response_time_ms bigint,
//	  was_connected bool, call_cost numeric(12,2),
//	  deducted_from_bonus numeric(12,2), deducted_from_base numeric(12,2),
//	  deduction_status text, created_at timestamptz, updated_at timestamptz)
//
//	call_event_log(id uuid primary key, call_id text, event_type text,
//	  payload jsonb, triggered_by text, ip_address text, created_at timestamptz)

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

var _ Repository = (*PostgresRepo)(nil)
var _ billing.CallMarker = (*PostgresRepo)(nil)

func (r *PostgresRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return utils.WithTx(ctx, r.db, nil, fn)
}

const sessionColumns = `call_id, inviter_id, invitee_id, call_type, state, previous_state,
	initiated_at, ringing_at, accepted_at, rejected_at, ended_at,
	duration_seconds, ring_duration_ms, response_time_ms, was_connected,
	call_cost, deducted_from_bonus, deducted_from_base, deduction_status,
	created_at, updated_at`

func (r *PostgresRepo) GetCallForUpdate(ctx context.Context, callID string) (CallSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1 FOR UPDATE`
	return r.scanSession(utils.Q(ctx, r.db).QueryRowContext(ctx, query, callID))
}

func (r *PostgresRepo) GetCall(ctx context.Context, callID string) (CallSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1`
	return r.scanSession(utils.Q(ctx, r.db).QueryRowContext(ctx, query, callID))
}

func (r *PostgresRepo) CreateCall(ctx context.Context, s CallSession) error {
	query := `
		INSERT INTO call_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (call_id) DO NOTHING`
	_, err := utils.Q(ctx, r.db).ExecContext(ctx, query,
		s.CallID, s.InviterID, s.InviteeID, s.CallType, s.State, s.PreviousState,
		s.InitiatedAt, s.RingingAt, s.AcceptedAt, s.RejectedAt, s.EndedAt,
		s.DurationSeconds, s.RingDurationMs, s.ResponseTimeMs, s.WasConnected,
		s.CallCost, s.DeductedFromBonus, s.DeductedFromBase, s.DeductionStatus,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpdateCall(ctx context.Context, s CallSession) error {
	query := `
		UPDATE call_sessions SET
			state = $2, previous_state = $3,
			ringing_at = $4, accepted_at = $5, rejected_at = $6, ended_at = $7,
			duration_seconds = $8, ring_duration_ms = $9, response_time_ms = $10,
			was_connected = $11, deducted_from_bonus = $12, deducted_from_base = $13,
			deduction_status = $14, updated_at = $15
		WHERE call_id = $1`
	res, err := utils.Q(ctx, r.db).ExecContext(ctx, query,
		s.CallID, s.State, s.PreviousState,
		s.RingingAt, s.AcceptedAt, s.RejectedAt, s.EndedAt,
		s.DurationSeconds, s.RingDurationMs, s.ResponseTimeMs,
		s.WasConnected, s.DeductedFromBonus, s.DeductedFromBase,
		s.DeductionStatus, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListFailedDeductions(ctx context.Context, limit int) ([]CallSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM call_sessions
		WHERE deduction_status = $1 AND was_connected AND duration_seconds > 0
		ORDER BY ended_at ASC
		LIMIT $2`
	return r.querySessions(ctx, query, DeductionFailed, limit)
}

func (r *PostgresRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]CallSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM call_sessions
		WHERE state IN ($1, $2) AND initiated_at < $3
		ORDER BY initiated_at ASC
		LIMIT $4`
	return r.querySessions(ctx, query, StateInitiated, StateRinging, cutoff, limit)
}

// MarkDeductionCompleted records a reconciled debit on the session row.
func (r *PostgresRepo) MarkDeductionCompleted(ctx context.Context, callID string, split billing.DeductionSplit) error {
	query := `
		UPDATE call_sessions SET
			deduction_status = $2, deducted_from_bonus = $3, deducted_from_base = $4,
			updated_at = now()
		WHERE call_id = $1`
	res, err := utils.Q(ctx, r.db).ExecContext(ctx, query, callID, DeductionCompleted, split.FromBonus, split.FromBase)
	if err != nil {
		return fmt.Errorf("mark deduction completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark deduction completed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, e EventLogEntry) error {
	query := `
		INSERT INTO call_event_log (id, call_id, event_type, payload, triggered_by, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.CallID, e.EventType, e.Payload, e.TriggeredBy, e.IPAddress, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append call event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListEvents(ctx context.Context, callID string, limit int) ([]EventLogEntry, error) {
	query := `
		SELECT id, call_id, event_type, payload, triggered_by, ip_address, created_at
		FROM call_event_log
		WHERE call_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := utils.Q(ctx, r.db).QueryContext(ctx, query, callID, limit)
	if err != nil {
		return nil, fmt.Errorf("list call events: %w", err)
	}
	defer rows.Close()

	var out []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.ID, &e.CallID, &e.EventType, &e.Payload, &e.TriggeredBy, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) querySessions(ctx context.Context, query string, args ...any) ([]CallSession, error) {
	rows, err := utils.Q(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query call sessions: %w", err)
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) scanSession(row rowScanner) (CallSession, error) {
	s, err := scanSessionRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, ErrNotFound
	}
	return s, err
}

func scanSessionRows(row rowScanner) (CallSession, error) {
	var s CallSession
	err := row.Scan(
		&s.CallID, &s.InviterID, &s.InviteeID, &s.CallType, &s.State, &s.PreviousState,
		&s.InitiatedAt, &s.RingingAt, &s.AcceptedAt, &s.RejectedAt, &s.EndedAt,
		&s.DurationSeconds, &s.RingDurationMs, &s.ResponseTimeMs, &s.WasConnected,
		&s.CallCost, &s.DeductedFromBonus, &s.DeductedFromBase, &s.DeductionStatus,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, err
		}
		return CallSession{}, fmt.Errorf("scan call session: %w", err)
	}
	return s, nil
}
