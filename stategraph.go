// Package stategraph runs graphs of nodes over a shared, typed state.
//
// Nodes read an immutable snapshot of the state and return partial updates.
// Every super-step runs the active nodes in parallel, waits for all of them,
// and merges their updates through the reducer of each key. A checkpointer
// persists the state after every super-step so a thread can resume where it
// stopped.
//
//	schema := stategraph.NewSchema(
//		stategraph.Key("count", channels.NewAccumulator[int]()),
//		stategraph.Key("items", channels.NewTopic[string]()),
//	)
//	g, err := stategraph.NewStateGraph(schema).
//		AddNode("a", a).
//		AddNode("b", b).
//		AddEdge(stategraph.Start, "a").
//		AddEdge(stategraph.Start, "b").
//		AddEdge("a", stategraph.End).
//		AddEdge("b", stategraph.End).
//		Compile(stategraph.WithCheckpointer(stategraph.NewMemorySaver()))
//	if err != nil {
//		log.Fatal(err)
//	}
//	st, err := g.Run(ctx, nil, "thread-1")
//
// The subpackages hold the pieces: graph (builder and executor), channels
// (reducers), checkpoint and store (persistence), message and prebuilt
// (conversations), stream and telemetry (observability), config (settings).
package stategraph

import (
	"github.com/langgraph-go/stategraph/checkpoint"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/graph"
	"github.com/langgraph-go/stategraph/store"
	"github.com/langgraph-go/stategraph/types"
)

// Re-exported types.
type (
	StateGraph    = graph.StateGraph
	Compiled      = graph.Compiled
	Schema        = graph.Schema
	Field         = graph.Field
	State         = graph.State
	Update        = graph.Update
	NodeFunc      = graph.NodeFunc
	RouteFunc     = graph.RouteFunc
	NodeOption    = graph.NodeOption
	CompileOption = graph.CompileOption

	Checkpoint   = checkpoint.Checkpoint
	Checkpointer = checkpoint.Checkpointer
	Store        = store.Store

	RunnableConfig = types.RunnableConfig
	StateSnapshot  = types.StateSnapshot
)

// Virtual nodes.
const (
	Start = constants.Start
	End   = constants.End
)

var (
	NewStateGraph = graph.NewStateGraph
	NewSchema     = graph.NewSchema
	Key           = graph.Key

	WithWrites      = graph.WithWrites
	WithDescription = graph.WithDescription

	WithCheckpointer   = graph.WithCheckpointer
	WithStore          = graph.WithStore
	WithRecursionLimit = graph.WithRecursionLimit
	WithMaxConcurrency = graph.WithMaxConcurrency
	WithLogger         = graph.WithLogger
	WithEmitter        = graph.WithEmitter
	WithTelemetry      = graph.WithTelemetry

	NewMemorySaver    = checkpoint.NewMemorySaver
	NewInMemoryStore  = store.NewInMemoryStore
	NewRunnableConfig = types.NewRunnableConfig
)

// Value returns the value of key as T, or T's zero value.
func Value[T any](s State, key string) T {
	return graph.Value[T](s, key)
}
