package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const preferencesSchema = `
	CREATE TABLE IF NOT EXISTS equinox_preferences (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, key)
	)
`

// PostgresStore persists preferences in the equinox_preferences table,
// scoped by namespace so several installations can share one database.
type PostgresStore struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresStore connects to dsn and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn, namespace string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewPostgresStoreFromPool(ctx, pool, namespace)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromPool uses an existing pool and ensures the table exists.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool, namespace string) (*PostgresStore, error) {
	if namespace == "" {
		namespace = "default"
	}
	if _, err := pool.Exec(ctx, preferencesSchema); err != nil {
		return nil, fmt.Errorf("failed to create preferences table: %w", err)
	}
	return &PostgresStore{pool: pool, namespace: namespace}, nil
}

// Get returns the value stored under key.
func (p *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM equinox_preferences WHERE namespace = $1 AND key = $2`,
		p.namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query preference: %w", err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (p *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO equinox_preferences (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, p.namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

// Delete removes key.
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM equinox_preferences WHERE namespace = $1 AND key = $2`,
		p.namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}

// Keys returns every key of the namespace in sorted order.
func (p *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM equinox_preferences WHERE namespace = $1 ORDER BY key`,
		p.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query preference keys: %w", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan preference keys: %w", err)
	}
	return keys, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}
