package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// SqliteSaver is a SQLite-based checkpoint saver.
type SqliteSaver struct {
	db         *sql.DB
	serializer Serializer
}

// NewSqliteSaver opens (or creates) the database at dbPath.
func NewSqliteSaver(dbPath string) (*SqliteSaver, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	saver, err := NewSqliteSaverWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return saver, nil
}

// NewSqliteSaverWithDB creates a saver on an existing database handle.
func NewSqliteSaverWithDB(db *sql.DB) (*SqliteSaver, error) {
	saver := &SqliteSaver{db: db, serializer: JSONSerializer{}}
	if err := saver.setup(context.Background()); err != nil {
		return nil, err
	}
	return saver, nil
}

func (s *SqliteSaver) setup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		parent_id TEXT,
		checkpoint BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (thread_id, step)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, step);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save appends a checkpoint to its thread.
func (s *SqliteSaver) Save(ctx context.Context, c *Checkpoint) error {
	if err := validate(c); err != nil {
		return err
	}
	data, err := s.serializer.Serialize(c)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(step) FROM checkpoints WHERE thread_id = ?`, c.ThreadID,
	).Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest step: %w", err)
	}
	if latest.Valid && int(latest.Int64) >= c.Step {
		return conflict(c.ThreadID, c.Step, int(latest.Int64))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, thread_id, step, parent_id, checkpoint, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ThreadID, c.Step, c.ParentID, data, c.CreatedAt,
	); err != nil {
		return insertError(c, err)
	}
	return tx.Commit()
}

// insertError reports a lost race on UNIQUE(thread_id, step) as a conflict.
// It happens when the handle was opened without _txlock=immediate and
// another saver wrote the step between our read and insert.
func insertError(c *Checkpoint, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return conflict(c.ThreadID, c.Step, c.Step)
	}
	return fmt.Errorf("failed to insert checkpoint: %w", err)
}

// Load returns the latest checkpoint of a thread.
func (s *SqliteSaver) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`, threadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return s.decode(data)
}

// List returns every checkpoint of a thread, oldest first.
func (s *SqliteSaver) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint FROM checkpoints WHERE thread_id = ? ORDER BY step ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		c, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteThread removes a thread's lineage.
func (s *SqliteSaver) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SqliteSaver) Close() error {
	return s.db.Close()
}

func (s *SqliteSaver) decode(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := s.serializer.Deserialize(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &c, nil
}

var _ Checkpointer = (*SqliteSaver)(nil)
