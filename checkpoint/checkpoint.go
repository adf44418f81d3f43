// Package checkpoint provides the per-thread checkpoint lineage used to
// resume graph runs.
//
// A thread's checkpoints form an append-only sequence ordered by step. Every
// backend rejects a checkpoint whose step is not greater than the thread's
// latest one, so history can only grow.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Load for a thread without checkpoints.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrConflict is returned by Save when the step would rewrite history.
	ErrConflict = errors.New("checkpoint conflict")
)

// Checkpoint is the state of a thread after one super-step.
type Checkpoint struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	ThreadID string `json:"thread_id"`
	// Step is the super-step index; the input checkpoint of a thread uses -1.
	Step int `json:"step"`
	// Values holds one entry per schema key.
	Values map[string]any `json:"values"`
	// Completed lists the nodes whose outputs produced Values.
	Completed []string `json:"completed"`
	// Next lists the nodes the executor will run after this checkpoint.
	// Empty when the run finished.
	Next      []string       `json:"next"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewCheckpoint creates a checkpoint with a fresh ID.
func NewCheckpoint(threadID string, step int) *Checkpoint {
	return &Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Step:      step,
		Values:    make(map[string]any),
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// Done reports whether the run that wrote the checkpoint finished.
func (c *Checkpoint) Done() bool {
	return len(c.Next) == 0
}

// Clone returns a deep copy, encoded and decoded the way durable backends
// store checkpoints.
func (c *Checkpoint) Clone() (*Checkpoint, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*Checkpoint, error) {
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &out, nil
}

// Checkpointer persists checkpoint lineages. Implementations must be safe for
// concurrent use by several executors.
type Checkpointer interface {
	// Save appends c to its thread's lineage. It returns an error wrapping
	// ErrConflict when c.Step is not greater than the latest saved step.
	Save(ctx context.Context, c *Checkpoint) error
	// Load returns the latest checkpoint of the thread, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	// List returns the thread's checkpoints, oldest first.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)
}

// Serializer defines how backends encode checkpoints.
type Serializer interface {
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte, target any) error
}

// JSONSerializer is the default serializer.
type JSONSerializer struct{}

// Serialize implements Serializer.
func (JSONSerializer) Serialize(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Deserialize implements Serializer.
func (JSONSerializer) Deserialize(data []byte, target any) error {
	return json.Unmarshal(data, target)
}

func validate(c *Checkpoint) error {
	switch {
	case c == nil:
		return errors.New("checkpoint is nil")
	case c.ThreadID == "":
		return errors.New("thread_id is required")
	case c.ID == "":
		return errors.New("checkpoint id is required")
	}
	return nil
}

func conflict(threadID string, step, latest int) error {
	return fmt.Errorf("%w: thread %s already has step %d, cannot save step %d", ErrConflict, threadID, latest, step)
}

// sortByStep orders a lineage oldest first.
func sortByStep(cs []*Checkpoint) {
	slices.SortFunc(cs, func(a, b *Checkpoint) int { return a.Step - b.Step })
}
