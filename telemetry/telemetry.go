// Package telemetry provides OpenTelemetry tracing and metrics for graph
// runs: one span per run, per super-step and per node execution.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/langgraph-go/stategraph/errors"
)

const (
	// InstrumentationName is the name of the instrumentation.
	InstrumentationName = "github.com/langgraph-go/stategraph"
	// InstrumentationVersion is the version of the instrumentation.
	InstrumentationVersion = "1.0.0"
)

// Span names.
const (
	SpanRun  = "stategraph.run"
	SpanStep = "stategraph.step"
	SpanNode = "stategraph.node"
)

// SpanAttributes holds the attribute keys set on spans and metrics.
var SpanAttributes = struct {
	ThreadID     attribute.Key
	RunID        attribute.Key
	Step         attribute.Key
	NodeName     attribute.Key
	ActiveNodes  attribute.Key
	CheckpointID attribute.Key
	ErrorCode    attribute.Key
	Tags         attribute.Key
}{
	ThreadID:     "stategraph.thread_id",
	RunID:        "stategraph.run_id",
	Step:         "stategraph.step",
	NodeName:     "stategraph.node",
	ActiveNodes:  "stategraph.active_nodes",
	CheckpointID: "stategraph.checkpoint_id",
	ErrorCode:    "stategraph.error_code",
	Tags:         "stategraph.tags",
}

// MetricNames holds the names of the recorded instruments.
var MetricNames = struct {
	NodeDuration    string
	StepDuration    string
	NodeErrors      string
	CheckpointSaves string
}{
	NodeDuration:    "stategraph.node.duration",
	StepDuration:    "stategraph.step.duration",
	NodeErrors:      "stategraph.node.errors",
	CheckpointSaves: "stategraph.checkpoint.saves",
}

// Telemetry records spans and metrics for the executor. A nil *Telemetry is
// valid and records nothing.
type Telemetry struct {
	tracer trace.Tracer

	nodeDuration    metric.Float64Histogram
	stepDuration    metric.Float64Histogram
	nodeErrors      metric.Int64Counter
	checkpointSaves metric.Int64Counter
}

// New creates Telemetry from explicit providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))

	nodeDuration, err := meter.Float64Histogram(
		MetricNames.NodeDuration,
		metric.WithDescription("Duration of node executions"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram(
		MetricNames.StepDuration,
		metric.WithDescription("Duration of super-steps"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	nodeErrors, err := meter.Int64Counter(
		MetricNames.NodeErrors,
		metric.WithDescription("Count of failed node executions"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	checkpointSaves, err := meter.Int64Counter(
		MetricNames.CheckpointSaves,
		metric.WithDescription("Count of checkpoint saves"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		tracer:          tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion)),
		nodeDuration:    nodeDuration,
		stepDuration:    stepDuration,
		nodeErrors:      nodeErrors,
		checkpointSaves: checkpointSaves,
	}, nil
}

// Default creates Telemetry on the global providers.
func Default() (*Telemetry, error) {
	return New(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// Noop returns Telemetry that records nothing.
func Noop() *Telemetry {
	t, _ := New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return t
}

// StartRun starts the span covering a whole run. Tags of the invocation are
// recorded when given.
func (t *Telemetry) StartRun(ctx context.Context, threadID, runID string, tags ...string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	attrs := []attribute.KeyValue{
		SpanAttributes.ThreadID.String(threadID),
		SpanAttributes.RunID.String(runID),
	}
	if len(tags) > 0 {
		attrs = append(attrs, SpanAttributes.Tags.StringSlice(tags))
	}
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStep starts a super-step span.
func (t *Telemetry) StartStep(ctx context.Context, threadID string, step int, active []string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanStep,
		trace.WithAttributes(
			SpanAttributes.ThreadID.String(threadID),
			SpanAttributes.Step.Int(step),
			SpanAttributes.ActiveNodes.StringSlice(active),
		),
	)
}

// StartNode starts a node execution span.
func (t *Telemetry) StartNode(ctx context.Context, threadID string, step int, node string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanNode,
		trace.WithAttributes(
			SpanAttributes.ThreadID.String(threadID),
			SpanAttributes.Step.Int(step),
			SpanAttributes.NodeName.String(node),
		),
	)
}

// RecordNode records a node execution.
func (t *Telemetry) RecordNode(ctx context.Context, node string, d time.Duration, err error) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(SpanAttributes.NodeName.String(node))
	t.nodeDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if err != nil {
		t.nodeErrors.Add(ctx, 1, metric.WithAttributes(
			SpanAttributes.NodeName.String(node),
			SpanAttributes.ErrorCode.String(string(errors.GetErrorCode(err))),
		))
	}
}

// RecordStep records a super-step duration.
func (t *Telemetry) RecordStep(ctx context.Context, active int, d time.Duration) {
	if t == nil {
		return
	}
	t.stepDuration.Record(ctx, float64(d.Microseconds())/1000,
		metric.WithAttributes(attribute.Int("stategraph.active_count", active)))
}

// RecordCheckpoint counts a checkpoint save attempt.
func (t *Telemetry) RecordCheckpoint(ctx context.Context, err error) {
	if t == nil {
		return
	}
	t.checkpointSaves.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}

// End finishes span, marking it failed when err is set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := errors.GetErrorCode(err); code != "" {
			span.SetAttributes(SpanAttributes.ErrorCode.String(string(code)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
