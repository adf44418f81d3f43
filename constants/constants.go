// Package constants provides the reserved names and defaults shared by the
// graph builder, the executor and the persistence backends.
package constants

// Virtual nodes.
const (
	// Start is the virtual entry node of every graph.
	Start = "__start__"
	// End is the virtual terminal node. Routing to it finishes a branch.
	End = "__end__"
)

// Reserved config.configurable keys.
const (
	// ConfigKeyThreadID holds the thread ID for the current invocation.
	ConfigKeyThreadID = "thread_id"
	// ConfigKeyUserID holds the user ID used to namespace long-lived memory.
	ConfigKeyUserID = "user_id"
	// ConfigKeyCheckpointID holds the checkpoint a run resumed from, if any.
	ConfigKeyCheckpointID = "checkpoint_id"
	// Conf is the key for the configurable dict in RunnableConfig.
	Conf = "configurable"
)

// Defaults.
const (
	// DefaultRecursionLimit caps the number of super-steps in a single run.
	DefaultRecursionLimit = 25
	// InputStep is the step index of the checkpoint that records run input.
	InputStep = -1
)

// Checkpoint metadata sources.
const (
	SourceInput = "input"
	SourceLoop  = "loop"
)

// Reserved contains all names that cannot be used as node names.
var Reserved = map[string]bool{
	Start: true,
	End:   true,
}

// IsReserved checks if a name is reserved.
func IsReserved(name string) bool {
	return Reserved[name]
}
