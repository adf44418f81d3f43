package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSaver is a PostgreSQL-based checkpoint saver.
type PostgresSaver struct {
	pool       *pgxpool.Pool
	serializer Serializer
}

// PostgresConfig holds configuration for PostgreSQL connection.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int32
	MinConnections  int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// ConnString renders the config as a libpq connection string.
func (c *PostgresConfig) ConnString() string {
	sslMode := "disable"
	if c.SSLMode != "" {
		sslMode = c.SSLMode
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode,
	)
}

// NewPool opens a pgx connection pool. Pool limits from cfg are applied when set.
func NewPool(ctx context.Context, connString string, cfg *PostgresConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg != nil {
		if cfg.MaxConnections > 0 {
			config.MaxConns = cfg.MaxConnections
		}
		if cfg.MinConnections > 0 {
			config.MinConns = cfg.MinConnections
		}
		if cfg.MaxConnIdleTime > 0 {
			config.MaxConnIdleTime = cfg.MaxConnIdleTime
		}
		if cfg.MaxConnLifetime > 0 {
			config.MaxConnLifetime = cfg.MaxConnLifetime
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// NewPostgresSaver connects to PostgreSQL and creates the tables if needed.
func NewPostgresSaver(ctx context.Context, connString string) (*PostgresSaver, error) {
	pool, err := NewPool(ctx, connString, nil)
	if err != nil {
		return nil, err
	}
	saver, err := NewPostgresSaverWithPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return saver, nil
}

// NewPostgresSaverWithConfig connects using explicit connection settings.
func NewPostgresSaverWithConfig(ctx context.Context, config *PostgresConfig) (*PostgresSaver, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	pool, err := NewPool(ctx, config.ConnString(), config)
	if err != nil {
		return nil, err
	}
	saver, err := NewPostgresSaverWithPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return saver, nil
}

// NewPostgresSaverWithPool creates a saver on an existing pool. Close closes
// the pool.
func NewPostgresSaverWithPool(ctx context.Context, pool *pgxpool.Pool) (*PostgresSaver, error) {
	saver := &PostgresSaver{pool: pool, serializer: JSONSerializer{}}
	if err := saver.setup(ctx); err != nil {
		return nil, err
	}
	return saver, nil
}

func (s *PostgresSaver) setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id UUID PRIMARY KEY,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			checkpoint JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (thread_id, step)
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_step
			ON checkpoints(thread_id, step DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save appends a checkpoint to its thread. Concurrent savers of one thread
// are serialized with a transaction-scoped advisory lock.
func (s *PostgresSaver) Save(ctx context.Context, c *Checkpoint) error {
	if err := validate(c); err != nil {
		return err
	}
	data, err := s.serializer.Serialize(c)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.ThreadID); err != nil {
			return fmt.Errorf("failed to lock thread: %w", err)
		}
		var latest *int
		if err := tx.QueryRow(ctx,
			`SELECT MAX(step) FROM checkpoints WHERE thread_id = $1`, c.ThreadID,
		).Scan(&latest); err != nil {
			return fmt.Errorf("failed to read latest step: %w", err)
		}
		if latest != nil && *latest >= c.Step {
			return conflict(c.ThreadID, c.Step, *latest)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO checkpoints (id, thread_id, step, parent_id, checkpoint, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.ThreadID, c.Step, c.ParentID, data, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		return nil
	})
}

// Load returns the latest checkpoint of a thread.
func (s *PostgresSaver) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT checkpoint FROM checkpoints WHERE thread_id = $1 ORDER BY step DESC LIMIT 1`, threadID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return s.decode(data)
}

// List returns every checkpoint of a thread, oldest first.
func (s *PostgresSaver) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT checkpoint FROM checkpoints WHERE thread_id = $1 ORDER BY step ASC`, threadID)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByStep(out)
	return out, nil
}

// DeleteThread removes a thread's lineage.
func (s *PostgresSaver) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresSaver) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresSaver) decode(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := s.serializer.Deserialize(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &c, nil
}

var _ Checkpointer = (*PostgresSaver)(nil)
