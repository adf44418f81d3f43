// Package graph builds and runs state graphs: nodes that read an immutable
// state snapshot and return partial updates, joined by fixed and conditional
// edges and executed in synchronized super-steps.
package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-logr/logr"

	"github.com/langgraph-go/stategraph/checkpoint"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/errors"
	"github.com/langgraph-go/stategraph/store"
	"github.com/langgraph-go/stategraph/stream"
	"github.com/langgraph-go/stategraph/telemetry"
	"github.com/langgraph-go/stategraph/validation"
)

// NodeFunc is the body of a node. It must not modify s; it returns the keys
// it wants to change.
type NodeFunc func(ctx context.Context, s State) (Update, error)

// RouteFunc picks the next node of a conditional edge from the merged state.
type RouteFunc func(ctx context.Context, s State) (string, error)

// Node is a named unit of computation.
type Node struct {
	Name        string
	Description string
	// Writes, when set, restricts the keys the node may return.
	Writes []string
	fn     NodeFunc
}

// NodeOption configures a node.
type NodeOption func(*Node)

// WithWrites declares the keys a node may write. Compile checks them against
// the schema and the executor rejects writes outside them.
func WithWrites(keys ...string) NodeOption {
	return func(n *Node) {
		n.Writes = append(n.Writes, keys...)
	}
}

// WithDescription attaches a human readable description, shown by the
// visualization package.
func WithDescription(description string) NodeOption {
	return func(n *Node) {
		n.Description = description
	}
}

type route struct {
	fn      RouteFunc
	allowed []string
}

// StateGraph is a graph whose nodes communicate by reading and writing to a
// shared state. Builder methods never fail: problems are recorded and
// reported together by Compile.
type StateGraph struct {
	schema *Schema
	// every AddNode call, duplicates included
	added  []*Node
	nodes  map[string]*Node
	edges  map[string][]string
	routes map[string][]*route
	errs   []error
}

// NewStateGraph creates a new StateGraph over schema.
func NewStateGraph(schema *Schema) *StateGraph {
	return &StateGraph{
		schema: schema,
		nodes:  make(map[string]*Node),
		edges:  make(map[string][]string),
		routes: make(map[string][]*route),
	}
}

// AddNode adds a node to the graph.
func (g *StateGraph) AddNode(name string, fn NodeFunc, opts ...NodeOption) *StateGraph {
	n := &Node{Name: name, fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	if fn == nil {
		g.errs = append(g.errs, fmt.Errorf("node '%s' has no function", name))
	}
	g.added = append(g.added, n)
	if _, ok := g.nodes[name]; !ok {
		g.nodes[name] = n
	}
	return g
}

// AddEdge adds an unconditional edge. Several edges from one source fan out
// into parallel branches.
func (g *StateGraph) AddEdge(from, to string) *StateGraph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a routing function evaluated after from completes.
// It must return one of allowed, which may include END.
func (g *StateGraph) AddConditionalEdge(from string, fn RouteFunc, allowed ...string) *StateGraph {
	if fn == nil {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from '%s' has no routing function", from))
	}
	g.routes[from] = append(g.routes[from], &route{fn: fn, allowed: slices.Clone(allowed)})
	return g
}

// Compile validates the graph and returns an executable graph. The error is
// a *errors.GraphValidationError listing every violation found.
func (g *StateGraph) Compile(opts ...CompileOption) (*Compiled, error) {
	v := validation.NewValidator()
	for _, err := range g.errs {
		v.Report(err)
	}
	if g.schema == nil {
		v.Report(fmt.Errorf("graph has no state schema"))
	} else {
		for _, err := range g.schema.errs {
			v.Report(err)
		}
		for _, f := range g.schema.fields {
			v.DeclareKey(f.Name, f.Reducer.AllowsConcurrentWrites())
		}
	}
	for _, n := range g.added {
		v.AddNode(n.Name, n.Writes)
	}
	for _, from := range g.sources() {
		for _, to := range g.edges[from] {
			v.AddEdge(from, to)
		}
		for _, r := range g.routes[from] {
			v.AddRoute(from, r.allowed)
		}
	}
	if gve := errors.NewGraphValidationError(v.Validate()...); gve != nil {
		return nil, gve
	}

	o := options{
		recursionLimit: constants.DefaultRecursionLimit,
		logger:         logr.Discard(),
		emitter:        stream.Discard,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Compiled{
		schema: g.schema,
		index:  make(map[string]int, len(g.nodes)),
		edges:  make(map[string][]string, len(g.edges)),
		routes: make(map[string][]*route, len(g.routes)),
		opts:   o,
	}
	for _, n := range g.added {
		if _, seen := c.index[n.Name]; seen {
			continue
		}
		c.index[n.Name] = len(c.nodes)
		c.nodes = append(c.nodes, n)
	}
	for from, to := range g.edges {
		c.edges[from] = slices.Clone(to)
	}
	for from, rs := range g.routes {
		c.routes[from] = slices.Clone(rs)
	}
	return c, nil
}

// sources lists START and every node name that has outgoing edges, in a
// stable order.
func (g *StateGraph) sources() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(constants.Start)
	for _, n := range g.added {
		add(n.Name)
	}
	var rest []string
	for from := range g.edges {
		if !seen[from] {
			rest = append(rest, from)
		}
	}
	for from := range g.routes {
		if !seen[from] && !slices.Contains(rest, from) {
			rest = append(rest, from)
		}
	}
	slices.Sort(rest)
	for _, from := range rest {
		add(from)
	}
	return out
}

type options struct {
	checkpointer   checkpoint.Checkpointer
	store          store.Store
	recursionLimit int
	maxConcurrency int
	logger         logr.Logger
	emitter        stream.Emitter
	telemetry      *telemetry.Telemetry
	debug          bool
}

// CompileOption is an option for compiling a graph.
type CompileOption func(*options)

// WithCheckpointer persists a checkpoint after every super-step, enabling
// resume and history.
func WithCheckpointer(cp checkpoint.Checkpointer) CompileOption {
	return func(o *options) {
		o.checkpointer = cp
	}
}

// WithStore makes a memory store available to nodes through their runtime.
func WithStore(s store.Store) CompileOption {
	return func(o *options) {
		o.store = s
	}
}

// WithRecursionLimit sets the number of super-steps one run may execute.
func WithRecursionLimit(limit int) CompileOption {
	return func(o *options) {
		if limit > 0 {
			o.recursionLimit = limit
		}
	}
}

// WithMaxConcurrency bounds the nodes running at once within a super-step.
// Zero means unbounded.
func WithMaxConcurrency(n int) CompileOption {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) CompileOption {
	return func(o *options) {
		o.logger = log
	}
}

// WithEmitter sends run events to em.
func WithEmitter(em stream.Emitter) CompileOption {
	return func(o *options) {
		if em != nil {
			o.emitter = em
		}
	}
}

// WithTelemetry records spans and metrics.
func WithTelemetry(t *telemetry.Telemetry) CompileOption {
	return func(o *options) {
		o.telemetry = t
	}
}

// WithDebug attaches each node's update to its node_end event.
func WithDebug(debug bool) CompileOption {
	return func(o *options) {
		o.debug = debug
	}
}
