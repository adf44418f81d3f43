package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/langgraph-go/stategraph/checkpoint"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/stream"
	"github.com/langgraph-go/stategraph/types"
)

// Compiled is a validated, executable graph. It is safe for concurrent use;
// each run owns its state.
type Compiled struct {
	schema *Schema
	nodes  []*Node
	index  map[string]int
	edges  map[string][]string
	routes map[string][]*route
	opts   options
}

// Schema returns the state schema of the graph.
func (c *Compiled) Schema() *Schema {
	return c.schema
}

// Run executes the graph on threadID and returns the final state. An empty
// threadID runs on a fresh thread.
func (c *Compiled) Run(ctx context.Context, input Update, threadID string) (State, error) {
	return c.newExecution(types.NewRunnableConfig().WithThreadID(threadID), c.opts.emitter).run(ctx, input)
}

// Invoke executes the graph with a full invocation config and returns the
// final values.
func (c *Compiled) Invoke(ctx context.Context, input map[string]any, cfg *types.RunnableConfig) (map[string]any, error) {
	st, err := c.newExecution(cfg, c.opts.emitter).run(ctx, input)
	if err != nil {
		return nil, err
	}
	return st.Values(), nil
}

// Stream executes the graph in the background. Events are delivered on the
// first channel, which the caller must drain; the run's error, if any, is
// sent on the second. Both channels are closed when the run ends.
func (c *Compiled) Stream(ctx context.Context, input map[string]any, cfg *types.RunnableConfig) (<-chan stream.Event, <-chan error) {
	events := stream.NewChannelEmitter(64)
	errc := make(chan error, 1)
	em := stream.Multi(c.opts.emitter, events)

	go func() {
		defer close(errc)
		defer events.Close()
		if _, err := c.newExecution(cfg, em).run(ctx, input); err != nil {
			errc <- err
		}
	}()
	return events.Events(), errc
}

// GetState returns the latest snapshot of a thread. It returns an error
// wrapping checkpoint.ErrNotFound for unknown threads.
func (c *Compiled) GetState(ctx context.Context, threadID string) (*types.StateSnapshot, error) {
	if c.opts.checkpointer == nil {
		return nil, fmt.Errorf("graph compiled without a checkpointer")
	}
	cp, err := c.opts.checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	return c.snapshot(cp)
}

// History returns every snapshot of a thread, oldest first.
func (c *Compiled) History(ctx context.Context, threadID string) ([]*types.StateSnapshot, error) {
	if c.opts.checkpointer == nil {
		return nil, fmt.Errorf("graph compiled without a checkpointer")
	}
	cps, err := c.opts.checkpointer.List(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread %s: %w", threadID, err)
	}
	out := make([]*types.StateSnapshot, 0, len(cps))
	for _, cp := range cps {
		s, err := c.snapshot(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Compiled) snapshot(cp *checkpoint.Checkpoint) (*types.StateSnapshot, error) {
	st, err := c.schema.Restore(cp.Values)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", cp.ID, err)
	}
	return &types.StateSnapshot{
		ThreadID:     cp.ThreadID,
		Values:       st.Values(),
		Step:         cp.Step,
		Completed:    slices.Clone(cp.Completed),
		Next:         slices.Clone(cp.Next),
		CheckpointID: cp.ID,
		ParentID:     cp.ParentID,
		CreatedAt:    cp.CreatedAt,
		Metadata:     cp.Metadata,
	}, nil
}

// ordered de-duplicates names, drops END and sorts by registration order.
func (c *Compiled) ordered(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == constants.End || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b string) int {
		return c.index[a] - c.index[b]
	})
	return out
}

// NodeInfo describes a node for rendering.
type NodeInfo struct {
	Name        string
	Description string
	Writes      []string
}

// EdgeInfo describes one possible transition. Conditional edges produce one
// EdgeInfo per allowed target.
type EdgeInfo struct {
	From        string
	To          string
	Conditional bool
}

// Description is the static structure of a compiled graph.
type Description struct {
	Nodes []NodeInfo
	Edges []EdgeInfo
}

// Describe returns the nodes in registration order and every edge, with
// edges from START first.
func (c *Compiled) Describe() Description {
	var d Description
	for _, n := range c.nodes {
		d.Nodes = append(d.Nodes, NodeInfo{Name: n.Name, Description: n.Description, Writes: slices.Clone(n.Writes)})
	}
	sources := []string{constants.Start}
	for _, n := range c.nodes {
		sources = append(sources, n.Name)
	}
	for _, from := range sources {
		for _, to := range c.edges[from] {
			d.Edges = append(d.Edges, EdgeInfo{From: from, To: to})
		}
		for _, r := range c.routes[from] {
			for _, to := range r.allowed {
				d.Edges = append(d.Edges, EdgeInfo{From: from, To: to, Conditional: true})
			}
		}
	}
	return d
}
