package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemorySaver is an in-memory checkpoint saver. Checkpoints are deep-copied on
// the way in and out, so callers never share values with the saver.
type MemorySaver struct {
	mu       sync.RWMutex
	versions map[string][]*Checkpoint
}

// NewMemorySaver creates a new in-memory checkpoint saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		versions: make(map[string][]*Checkpoint),
	}
}

// Save appends a checkpoint to its thread.
func (s *MemorySaver) Save(ctx context.Context, c *Checkpoint) error {
	if err := validate(c); err != nil {
		return err
	}
	stored, err := c.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lineage := s.versions[c.ThreadID]
	if n := len(lineage); n > 0 && lineage[n-1].Step >= c.Step {
		return conflict(c.ThreadID, c.Step, lineage[n-1].Step)
	}
	s.versions[c.ThreadID] = append(lineage, stored)
	return nil
}

// Load returns the latest checkpoint of a thread.
func (s *MemorySaver) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage := s.versions[threadID]
	if len(lineage) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return lineage[len(lineage)-1].Clone()
}

// List returns every checkpoint of a thread, oldest first.
func (s *MemorySaver) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage := s.versions[threadID]
	out := make([]*Checkpoint, 0, len(lineage))
	for _, c := range lineage {
		cp, err := c.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// DeleteThread removes a thread's lineage.
func (s *MemorySaver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, threadID)
	return nil
}

// Threads returns the sorted IDs of threads with at least one checkpoint.
func (s *MemorySaver) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.versions))
}

var _ Checkpointer = (*MemorySaver)(nil)

// IsNotFound reports whether err means the thread has no checkpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is an append-only violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
