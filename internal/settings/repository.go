package settings

// NOTE: assumes table
//
//	platform_settings(key text primary key, value numeric(12,2),
//	  updated_by text, updated_at timestamptz)

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

var _ Repository = (*PostgresRepo)(nil)

func (r *PostgresRepo) Get(ctx context.Context, key string) (Setting, bool, error) {
	query := `SELECT key, value, updated_by, updated_at FROM platform_settings WHERE key = $1`
	var s Setting
	err := r.db.QueryRowContext(ctx, query, key).Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, false, nil
	}
	if err != nil {
		return Setting{}, false, fmt.Errorf("get setting: %w", err)
	}
	return s, true, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, s Setting) error {
	query := `
		INSERT INTO platform_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, s.Key, s.Value, s.UpdatedBy, s.UpdatedAt); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Setting, error) {
	query := `SELECT key, value, updated_by, updated_at FROM platform_settings ORDER BY key`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
