package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callcredits-platform/pkg/utils"

	"github.com/shopspring/decimal"
)

// NOTE: This repository assumes the following tables exist:
// - user_balances (user_id UNIQUE, base_balance/bonus_balance NUMERIC(10,2) CHECK >= 0)
// - balance_ledger_entries (immutable append-only)
//
// Get-or-create is an atomic "insert, on-conflict return existing" so
// concurrent first-accesses never create two rows.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, fn)
}

func (r *PostgresRepo) GetOrCreateBalanceForUpdate(ctx context.Context, userID string, initialBase decimal.Decimal, now time.Time) (UserBalance, bool, error) {
	const ins = `
INSERT INTO user_balances (user_id, base_balance, bonus_balance, created_at, updated_at)
VALUES ($1, $2, 0, $3, $3)
ON CONFLICT (user_id) DO NOTHING
`
	res, err := utils.Q(ctx, r.db).ExecContext(ctx, ins, userID, initialBase, now)
	if err != nil {
		return UserBalance{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UserBalance{}, false, err
	}
	created := n > 0

	// Lock the balance row to serialize concurrent money operations per user.
	const sel = `
SELECT user_id, base_balance, bonus_balance, last_reset, created_at, updated_at
FROM user_balances
WHERE user_id = $1
FOR UPDATE
`
	var b UserBalance
	if err := utils.Q(ctx, r.db).QueryRowContext(ctx, sel, userID).Scan(
		&b.UserID,
		&b.BaseBalance,
		&b.BonusBalance,
		&b.LastReset,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserBalance{}, false, ErrNotFound
		}
		return UserBalance{}, false, err
	}
	return b, created, nil
}

func (r *PostgresRepo) UpdateBalance(ctx context.Context, b UserBalance) error {
	const q = `
UPDATE user_balances
SET base_balance = $2, bonus_balance = $3, last_reset = $4, updated_at = $5
WHERE user_id = $1
`
	res, err := utils.Q(ctx, r.db).ExecContext(ctx, q, b.UserID, b.BaseBalance, b.BonusBalance, b.LastReset, b.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) InsertLedgerEntry(ctx context.Context, e LedgerEntry) error {
	const q = `
INSERT INTO balance_ledger_entries (
  id, user_id, entry_type, previous_total, new_total, delta, notes, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := utils.Q(ctx, r.db).ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.PreviousTotal,
		e.NewTotal,
		e.Delta,
		e.Notes,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) GetBalance(ctx context.Context, userID string) (UserBalance, error) {
	const q = `
SELECT user_id, base_balance, bonus_balance, last_reset, created_at, updated_at
FROM user_balances
WHERE user_id = $1
`
	var b UserBalance
	if err := utils.Q(ctx, r.db).QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.BaseBalance,
		&b.BonusBalance,
		&b.LastReset,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserBalance{}, ErrNotFound
		}
		return UserBalance{}, err
	}
	return b, nil
}

func (r *PostgresRepo) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	const q = `
SELECT id, user_id, entry_type, previous_total, new_total, delta, notes, created_at
FROM balance_ledger_entries
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := utils.Q(ctx, r.db).QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Type,
			&e.PreviousTotal,
			&e.NewTotal,
			&e.Delta,
			&e.Notes,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
