// Package types provides the configuration and snapshot types shared by the
// executor and its callers.
package types

import "time"

// StateSnapshot is the state of a thread as recorded by its latest checkpoint.
type StateSnapshot struct {
	// ThreadID owning the snapshot.
	ThreadID string
	// Values holds one entry per schema key.
	Values map[string]any
	// Step is the super-step index that produced Values.
	Step int
	// Completed lists the nodes that produced Values.
	Completed []string
	// Next lists the nodes that a resumed run would execute first.
	Next []string
	// CheckpointID of the snapshot.
	CheckpointID string
	// ParentID is the checkpoint this one follows, if any.
	ParentID string
	// CreatedAt is the timestamp of snapshot creation.
	CreatedAt time.Time
	// Metadata associated with this snapshot.
	Metadata map[string]any
}

// Done reports whether the thread has nothing left to run.
func (s *StateSnapshot) Done() bool {
	return len(s.Next) == 0
}
