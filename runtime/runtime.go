// Package runtime carries per-node execution context: the memory store, the
// thread and step being executed, and a logger scoped to them.
package runtime

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/langgraph-go/stategraph/store"
	"github.com/langgraph-go/stategraph/types"
)

// Runtime is what a node knows about the run executing it.
type Runtime struct {
	// ThreadID of the run.
	ThreadID string
	// RunID identifies one invocation of the graph.
	RunID string
	// Step is the super-step index.
	Step int
	// Node is the name of the node being executed.
	Node string
	// RemainingSteps counts the super-steps left before the recursion limit,
	// including the current one.
	RemainingSteps int
	// Store is the long-lived memory store, or nil when none is configured.
	Store store.Store
	// Config is the invocation config.
	Config *types.RunnableConfig
	// Logger is scoped to the thread, step and node.
	Logger logr.Logger
}

// IsLastStep reports whether the recursion limit stops the run after this step.
func (r *Runtime) IsLastStep() bool {
	return r.RemainingSteps <= 1
}

// UserID returns the configured user id, used to namespace memory.
func (r *Runtime) UserID() string {
	return r.Config.UserID()
}

// Namespace builds a memory namespace scoped to the current user, such as
// ("memory", user_id). It falls back to the thread id when no user is set.
func (r *Runtime) Namespace(kind string) []string {
	owner := r.UserID()
	if owner == "" {
		owner = r.ThreadID
	}
	return []string{kind, owner}
}

type runtimeKey struct{}

// WithRuntime returns a context carrying r.
func WithRuntime(ctx context.Context, r *Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, r)
}

// FromContext returns the runtime carried by ctx. Outside a graph run it
// returns an empty runtime with a discarding logger, never nil.
func FromContext(ctx context.Context) *Runtime {
	if r, ok := ctx.Value(runtimeKey{}).(*Runtime); ok && r != nil {
		return r
	}
	return &Runtime{Config: types.NewRunnableConfig(), Logger: logr.Discard()}
}

// Logger returns the runtime logger of ctx.
func Logger(ctx context.Context) logr.Logger {
	return FromContext(ctx).Logger
}
