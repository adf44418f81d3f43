package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/langgraph-go/stategraph/checkpoint"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/errors"
	"github.com/langgraph-go/stategraph/runtime"
	"github.com/langgraph-go/stategraph/stream"
	"github.com/langgraph-go/stategraph/telemetry"
	"github.com/langgraph-go/stategraph/types"
)

// Status is the executor state reported in events.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusMerged
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusMerged:
		return "merged"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// execution is one run of a compiled graph on one thread.
type execution struct {
	g       *Compiled
	cfg     *types.RunnableConfig
	em      stream.Emitter
	log     logr.Logger
	tel     *telemetry.Telemetry
	thread  string
	runID   string
	limit   int
	state   State
	step    int
	parent  string
	started int
}

func (c *Compiled) newExecution(cfg *types.RunnableConfig, em stream.Emitter) *execution {
	cfg = types.EnsureConfig(cfg)
	thread := cfg.Thread()
	if thread == "" {
		thread = uuid.NewString()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	limit := c.opts.recursionLimit
	if cfg.RecursionLimit > 0 {
		limit = cfg.RecursionLimit
	}
	return &execution{
		g:      c,
		cfg:    cfg,
		em:     em,
		log:    c.opts.logger.WithValues("thread", thread),
		tel:    c.opts.telemetry,
		thread: thread,
		runID:  runID,
		limit:  limit,
		step:   constants.InputStep,
	}
}

func (e *execution) emit(ctx context.Context, ev stream.Event) {
	ev.ThreadID = e.thread
	ev.RunID = e.runID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := e.em.Emit(ctx, ev); err != nil {
		e.log.V(1).Info("event not delivered", "type", ev.Type, "error", err.Error())
	}
}

// run drives the super-step loop until no node is active.
func (e *execution) run(ctx context.Context, input Update) (st State, err error) {
	ctx, span := e.tel.StartRun(ctx, e.thread, e.runID, e.cfg.Tags...)
	e.emit(ctx, stream.Event{Type: stream.RunStart, Step: e.step, Status: StatusPending.String()})
	defer func() {
		ev := stream.Event{Type: stream.RunEnd, Step: e.step, Status: StatusCompleted.String()}
		if err != nil {
			ev.Status = StatusFailed.String()
			ev.Error = err.Error()
			e.log.Error(err, "run failed", "step", e.step)
		} else {
			ev.Values = st.Values()
			e.log.V(1).Info("run completed", "step", e.step)
		}
		e.emit(ctx, ev)
		telemetry.End(span, err)
	}()

	active, err := e.prepare(ctx, input)
	if err != nil {
		return State{}, err
	}

	for e.started = 0; len(active) > 0; e.started++ {
		if e.started >= e.limit {
			return State{}, &errors.GraphRecursionError{Limit: e.limit, ThreadID: e.thread}
		}
		if err := ctx.Err(); err != nil {
			return State{}, &errors.CancelledError{ThreadID: e.thread, Step: e.step, Cause: err}
		}
		if active, err = e.superStep(ctx, active); err != nil {
			return State{}, err
		}
	}
	return e.state, nil
}

// prepare restores the thread, merges input and returns the first active set.
func (e *execution) prepare(ctx context.Context, input Update) ([]string, error) {
	schema := e.g.schema
	e.state = schema.Initial()

	var latest *checkpoint.Checkpoint
	if cp := e.g.opts.checkpointer; cp != nil {
		loaded, err := cp.Load(ctx, e.thread)
		switch {
		case stderrors.Is(err, checkpoint.ErrNotFound):
		case err != nil:
			return nil, &errors.CheckpointIOError{Op: "load", ThreadID: e.thread, Step: e.step, Cause: err}
		default:
			latest = loaded
		}
	}

	if latest != nil {
		restored, err := schema.Restore(latest.Values)
		if err != nil {
			return nil, &errors.CheckpointIOError{Op: "restore", ThreadID: e.thread, Step: latest.Step, Cause: err}
		}
		e.state = restored
		e.step = latest.Step + 1
		e.parent = latest.ID
	}

	resuming := latest != nil && !latest.Done()
	if resuming && len(input) == 0 {
		e.log.V(1).Info("resuming thread", "step", e.step, "next", latest.Next)
		return e.known(latest.Next)
	}

	merged, err := MergeAll(schema, e.state, []NodeUpdate{{Node: constants.SourceInput, Update: input}})
	if err != nil {
		return nil, e.wrap(err)
	}
	e.state = merged

	var active []string
	if resuming {
		if active, err = e.known(latest.Next); err != nil {
			return nil, err
		}
	} else if active, err = e.route(ctx, []string{constants.Start}); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, []string{constants.Start}, active, constants.SourceInput); err != nil {
		return nil, err
	}
	return active, nil
}

// known checks that a resumed active set still names nodes of the graph.
func (e *execution) known(names []string) ([]string, error) {
	for _, n := range names {
		if _, ok := e.g.index[n]; !ok {
			return nil, &errors.CheckpointIOError{
				Op: "resume", ThreadID: e.thread, Step: e.step,
				Cause: fmt.Errorf("checkpoint schedules unknown node '%s'", n),
			}
		}
	}
	return e.g.ordered(names), nil
}

// superStep runs the active nodes behind a join barrier, merges their
// updates atomically, routes and checkpoints. It returns the next active set.
func (e *execution) superStep(ctx context.Context, active []string) ([]string, error) {
	start := time.Now()
	log := e.log.WithValues("step", e.step)
	log.V(1).Info("super-step started", "active", active)
	ctx, span := e.tel.StartStep(ctx, e.thread, e.step, active)
	e.emit(ctx, stream.Event{Type: stream.StepStart, Step: e.step, Nodes: active, Status: StatusRunning.String()})

	next, err := e.execute(ctx, log, active)
	if err != nil {
		log.V(1).Info("super-step failed", "error", err.Error())
	}
	telemetry.End(span, err)
	e.tel.RecordStep(ctx, len(active), time.Since(start))
	return next, err
}

func (e *execution) execute(ctx context.Context, log logr.Logger, active []string) ([]string, error) {
	step := e.step
	updates := make([]NodeUpdate, len(active))
	var eg errgroup.Group
	if n := e.maxConcurrency(); n > 0 {
		eg.SetLimit(n)
	}
	for i, name := range active {
		node := e.g.nodes[e.g.index[name]]
		eg.Go(func() error {
			upd, err := e.runNode(ctx, log, node)
			if err != nil {
				return err
			}
			updates[i] = NodeUpdate{Node: name, Update: upd}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		log.V(1).Info("discarding super-step results after cancellation")
		return nil, &errors.CancelledError{ThreadID: e.thread, Step: e.step, Cause: err}
	}

	for _, nu := range updates {
		if err := e.checkWrites(nu); err != nil {
			return nil, err
		}
	}
	merged, err := MergeAll(e.g.schema, e.state, updates)
	if err != nil {
		return nil, e.wrap(err)
	}
	e.state = merged

	next, err := e.route(ctx, active)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, active, next, constants.SourceLoop); err != nil {
		return nil, err
	}
	e.emit(ctx, stream.Event{
		Type:   stream.StepEnd,
		Step:   step,
		Nodes:  next,
		Status: StatusMerged.String(),
		Values: e.state.Values(),
	})
	log.V(1).Info("super-step merged", "next", next)
	return next, nil
}

func (e *execution) maxConcurrency() int {
	if e.cfg.MaxConcurrency > 0 {
		return e.cfg.MaxConcurrency
	}
	return e.g.opts.maxConcurrency
}

// runNode executes one node. The node context keeps the run's values but
// not its cancellation: in-flight nodes finish and their results are
// discarded by the caller.
func (e *execution) runNode(ctx context.Context, log logr.Logger, node *Node) (upd Update, err error) {
	log = log.WithValues("node", node.Name)
	nodeCtx, span := e.tel.StartNode(context.WithoutCancel(ctx), e.thread, e.step, node.Name)
	nodeCtx = runtime.WithRuntime(nodeCtx, &runtime.Runtime{
		ThreadID:       e.thread,
		RunID:          e.runID,
		Step:           e.step,
		Node:           node.Name,
		RemainingSteps: e.limit - e.started,
		Store:          e.g.opts.store,
		Config:         e.cfg,
		Logger:         log,
	})

	log.V(2).Info("node started")
	e.emit(ctx, stream.Event{Type: stream.NodeStart, Step: e.step, Node: node.Name, Status: StatusRunning.String()})
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &errors.NodeExecutionError{Node: node.Name, ThreadID: e.thread, Step: e.step, Cause: err}
			e.emit(ctx, stream.Event{
				Type: stream.NodeError, Step: e.step, Node: node.Name,
				Status: StatusFailed.String(), Error: err.Error(),
			})
		} else {
			ev := stream.Event{Type: stream.NodeEnd, Step: e.step, Node: node.Name, Status: StatusCompleted.String()}
			if e.g.opts.debug {
				ev.Values = maps.Clone(upd)
			}
			e.emit(ctx, ev)
		}
		e.tel.RecordNode(ctx, node.Name, time.Since(start), err)
		telemetry.End(span, err)
		log.V(2).Info("node finished", "duration", time.Since(start), "failed", err != nil)
	}()

	return node.fn(nodeCtx, e.state)
}

// checkWrites enforces a node's declared write-set.
func (e *execution) checkWrites(nu NodeUpdate) error {
	node := e.g.nodes[e.g.index[nu.Node]]
	if len(node.Writes) == 0 {
		return nil
	}
	var extra []string
	for k := range nu.Update {
		if !slices.Contains(node.Writes, k) {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	slices.Sort(extra)
	return e.wrap(&errors.SchemaViolationError{Node: nu.Node, Keys: extra})
}

// route computes the nodes triggered by the completed set: targets of fixed
// edges and the choice of every conditional edge, evaluated on the merged
// state. END contributes no node.
func (e *execution) route(ctx context.Context, completed []string) ([]string, error) {
	var next []string
	for _, from := range completed {
		next = append(next, e.g.edges[from]...)
		for _, r := range e.g.routes[from] {
			target, err := r.fn(ctx, e.state)
			if err != nil {
				return nil, &errors.RoutingError{
					ThreadID: e.thread, Step: e.step, Source: from, Allowed: r.allowed, Cause: err,
				}
			}
			if !slices.Contains(r.allowed, target) {
				return nil, &errors.RoutingError{
					ThreadID: e.thread, Step: e.step, Source: from, Target: target, Allowed: r.allowed,
				}
			}
			next = append(next, target)
		}
	}
	return e.g.ordered(next), nil
}

// commit saves the current state as the checkpoint of the current step and
// advances the step counter.
func (e *execution) commit(ctx context.Context, completed, next []string, source string) error {
	defer func() { e.step++ }()
	cp := e.g.opts.checkpointer
	if cp == nil {
		return nil
	}
	c := checkpoint.NewCheckpoint(e.thread, e.step)
	c.ParentID = e.parent
	c.Values = e.state.Values()
	c.Completed = slices.Clone(completed)
	c.Next = slices.Clone(next)
	maps.Copy(c.Metadata, e.cfg.Metadata)
	if len(e.cfg.Tags) > 0 {
		c.Metadata["tags"] = slices.Clone(e.cfg.Tags)
	}
	c.Metadata["source"] = source
	c.Metadata["run_id"] = e.runID

	err := cp.Save(context.WithoutCancel(ctx), c)
	e.tel.RecordCheckpoint(ctx, err)
	if err != nil {
		return &errors.CheckpointIOError{
			Op: "save", ThreadID: e.thread, Step: e.step,
			Conflict: checkpoint.IsConflict(err), Cause: err,
		}
	}
	e.parent = c.ID
	e.log.V(2).Info("checkpoint saved", "step", e.step, "checkpoint", c.ID)
	e.emit(ctx, stream.Event{Type: stream.CheckpointSaved, Step: e.step, CheckpointID: c.ID, Nodes: c.Next})
	return nil
}

// wrap attaches the thread and step to merge errors while keeping their type
// reachable through errors.As.
func (e *execution) wrap(err error) error {
	return fmt.Errorf("thread %s, step %d: %w", e.thread, e.step, err)
}
