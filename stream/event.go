// Package stream carries executor events to observers: in-process channels,
// fan-out to several sinks and websocket clients.
package stream

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// EventType names a point in the life of a run.
type EventType string

const (
	RunStart        EventType = "run_start"
	StepStart       EventType = "step_start"
	NodeStart       EventType = "node_start"
	NodeEnd         EventType = "node_end"
	NodeError       EventType = "node_error"
	StepEnd         EventType = "step_end"
	CheckpointSaved EventType = "checkpoint"
	RunEnd          EventType = "run_end"
)

// Event is one observation emitted by the executor. Values is only set on
// step_end and run_end and is a copy the receiver may keep.
type Event struct {
	Type         EventType      `json:"type"`
	ThreadID     string         `json:"thread_id"`
	RunID        string         `json:"run_id,omitempty"`
	Step         int            `json:"step"`
	Node         string         `json:"node,omitempty"`
	Nodes        []string       `json:"nodes,omitempty"`
	Status       string         `json:"status,omitempty"`
	Values       map[string]any `json:"values,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	Time         time.Time      `json:"time"`
}

// Emitter receives events. Emit may block; the executor calls it from the
// goroutine running the super-step or the node.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, Event) error { return nil })

// ChannelEmitter delivers events on a buffered channel.
type ChannelEmitter struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
	mu   sync.RWMutex
}

// NewChannelEmitter creates a channel emitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	return &ChannelEmitter{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Emit sends ev, waiting for buffer space until ctx is done or the emitter is
// closed.
func (c *ChannelEmitter) Emit(ctx context.Context, ev Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-c.done:
		return &StreamError{Message: "emitter is closed"}
	default:
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case c.ch <- ev:
		return nil
	case <-c.done:
		return &StreamError{Message: "emitter is closed"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side. It is closed by Close.
func (c *ChannelEmitter) Events() <-chan Event {
	return c.ch
}

// Close stops accepting events and closes the channel once pending Emit
// calls have returned. Buffered events stay readable.
func (c *ChannelEmitter) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		close(c.ch)
		c.mu.Unlock()
	})
	return nil
}

// Multi emits to every emitter in order and combines their errors.
func Multi(emitters ...Emitter) Emitter {
	sinks := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			sinks = append(sinks, e)
		}
	}
	return EmitterFunc(func(ctx context.Context, ev Event) error {
		var err error
		for _, e := range sinks {
			err = multierr.Append(err, e.Emit(ctx, ev))
		}
		return err
	})
}

// Filter forwards only events of the listed types.
func Filter(e Emitter, types ...EventType) Emitter {
	return EmitterFunc(func(ctx context.Context, ev Event) error {
		if !slices.Contains(types, ev.Type) {
			return nil
		}
		return e.Emit(ctx, ev)
	})
}

// StreamError represents a stream-related error.
type StreamError struct {
	Message string
	Code    string
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
