package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/cyclebot/pkg/database"
)

// PostgresKV stores entries in the kv_entries table
type PostgresKV struct {
	db *database.DB
}

// NewPostgresKV wraps an open database; call db.Migrate first
func NewPostgresKV(db *database.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

func (p *PostgresKV) Name() string { return "postgres" }

func (p *PostgresKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := p.db.Pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE namespace = $1 AND key = $2`,
		namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (p *PostgresKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := p.db.Pool.Exec(ctx, `
		INSERT INTO kv_entries (namespace, key, value, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, namespace, key, string(value))
	if err != nil {
		return fmt.Errorf("postgres set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (p *PostgresKV) Delete(ctx context.Context, namespace, key string) error {
	_, err := p.db.Pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`,
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("postgres delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (p *PostgresKV) Keys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := p.db.Pool.Query(ctx,
		`SELECT key FROM kv_entries WHERE namespace = $1 ORDER BY key`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres keys %s: %w", namespace, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres keys %s: %w", namespace, err)
	}
	return keys, nil
}

// Close is a no-op; the pool is owned by the caller
func (p *PostgresKV) Close() error { return nil }
