package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore is a SQLite-backed Store.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens (or creates) the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s := &SqliteStore{db: db}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS store (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (namespace, key)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Get retrieves an item.
func (s *SqliteStore) Get(ctx context.Context, namespace []string, key string) (*Item, error) {
	ns, err := nsKey(namespace)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, key, value, created_at, updated_at FROM store WHERE namespace = ? AND key = ?`, ns, key)
	it, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// Put stores an item, replacing any previous value.
func (s *SqliteStore) Put(ctx context.Context, namespace []string, key string, value map[string]any) error {
	ns, err := nsKey(namespace)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO store (namespace, key, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ns, key, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// Delete removes an item.
func (s *SqliteStore) Delete(ctx context.Context, namespace []string, key string) error {
	ns, err := nsKey(namespace)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM store WHERE namespace = ? AND key = ?`, ns, key); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// Search returns the items under prefix that match opts.
func (s *SqliteStore) Search(ctx context.Context, prefix []string, opts SearchOptions) ([]*Item, error) {
	query, args := prefixQuery(`SELECT namespace, key, value, created_at, updated_at FROM store`, prefix, "?", "?")
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SqliteStore) ListNamespaces(ctx context.Context, prefix []string, maxDepth int) ([][]string, error) {
	query, args := prefixQuery(`SELECT DISTINCT namespace FROM store`, prefix, "?", "?")
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Close closes the database.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// prefixQuery appends a namespace prefix condition. Labels never contain the
// separator, so "ns = prefix OR ns LIKE prefix|%" selects exactly the
// namespaces under prefix once LIKE wildcards in the prefix are escaped.
func prefixQuery(base string, prefix []string, p1, p2 string) (string, []any) {
	if len(prefix) == 0 {
		return base, nil
	}
	joined := strings.Join(prefix, nsSep)
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return base + ` WHERE namespace = ` + p1 + ` OR namespace LIKE ` + p2 + ` ESCAPE '\'`,
		[]any{joined, escaper.Replace(joined) + nsSep + "%"}
}

func scanItem(scan func(dest ...any) error) (*Item, error) {
	var (
		ns, key, value       string
		createdAt, updatedAt time.Time
	)
	if err := scan(&ns, &key, &value, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	return &Item{
		Namespace: splitNS(ns),
		Key:       key,
		Value:     v,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

var _ Store = (*SqliteStore)(nil)
