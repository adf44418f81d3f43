package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and creates the table if needed.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgresStoreWithPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool creates a store on an existing pool. Close closes
// the pool.
func NewPostgresStoreWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS store (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (namespace, key)
		);
		CREATE INDEX IF NOT EXISTS idx_store_namespace ON store(namespace text_pattern_ops);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get retrieves an item.
func (s *PostgresStore) Get(ctx context.Context, namespace []string, key string) (*Item, error) {
	ns, err := nsKey(namespace)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT namespace, key, value::text, created_at, updated_at FROM store WHERE namespace = $1 AND key = $2`, ns, key)
	it, err := scanItem(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// Put stores an item, replacing any previous value.
func (s *PostgresStore) Put(ctx context.Context, namespace []string, key string, value map[string]any) error {
	ns, err := nsKey(namespace)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO store (namespace, key, value, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		ns, key, data, now)
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// Delete removes an item.
func (s *PostgresStore) Delete(ctx context.Context, namespace []string, key string) error {
	ns, err := nsKey(namespace)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM store WHERE namespace = $1 AND key = $2`, ns, key); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// Search returns the items under prefix that match opts.
func (s *PostgresStore) Search(ctx context.Context, prefix []string, opts SearchOptions) ([]*Item, error) {
	query, args := prefixQuery(`SELECT namespace, key, value::text, created_at, updated_at FROM store`, prefix, "$1", "$2")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page(items, opts), nil
}

// ListNamespaces lists the namespaces under prefix.
func (s *PostgresStore) ListNamespaces(ctx context.Context, prefix []string, maxDepth int) ([][]string, error) {
	query, args := prefixQuery(`SELECT DISTINCT namespace FROM store`, prefix, "$1", "$2")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, splitNS(ns))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return truncateNamespaces(out, maxDepth), nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
