package graph

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/langgraph-go/stategraph/channels"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/errors"
	"github.com/langgraph-go/stategraph/validation"
)

func countItemsSchema() *Schema {
	return NewSchema(
		Key("count", channels.NewAccumulator[int]()),
		Key("items", channels.NewTopic[string]()),
	)
}

func returns(u Update) NodeFunc {
	return func(context.Context, State) (Update, error) { return u, nil }
}

func TestCompile_Valid(t *testing.T) {
	g := NewStateGraph(countItemsSchema()).
		AddNode("a", returns(Update{"count": 1}), WithWrites("count")).
		AddNode("b", returns(Update{"items": "b"})).
		AddEdge(constants.Start, "a").
		AddEdge("a", "b").
		AddEdge("b", constants.End)

	c, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	d := c.Describe()
	if len(d.Nodes) != 2 || d.Nodes[0].Name != "a" {
		t.Errorf("expected nodes [a b], got %+v", d.Nodes)
	}
	want := []EdgeInfo{
		{From: constants.Start, To: "a"},
		{From: "a", To: "b"},
		{From: "b", To: constants.End},
	}
	if diff := cmp.Diff(want, d.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_CollectsEveryViolation(t *testing.T) {
	g := NewStateGraph(countItemsSchema()).
		AddNode("a", returns(nil), WithWrites("missing")).
		AddNode("a", returns(nil)).
		AddNode(constants.End, returns(nil)).
		AddNode("orphan", returns(nil)).
		AddNode("silent", returns(nil)).
		AddEdge("a", "ghost").
		AddEdge("orphan", constants.End).
		AddConditionalEdge("silent", func(context.Context, State) (string, error) { return constants.End, nil })

	_, err := g.Compile()
	var gve *errors.GraphValidationError
	if !stderrors.As(err, &gve) {
		t.Fatalf("expected GraphValidationError, got %v", err)
	}

	for _, sentinel := range []error{
		validation.ErrNoEntry,
		validation.ErrDuplicateNode,
		validation.ErrReservedName,
		validation.ErrDanglingEdge,
		validation.ErrUndeclaredWrite,
		validation.ErrInvalidTargets,
		validation.ErrUnreachable,
	} {
		if !stderrors.Is(err, sentinel) {
			t.Errorf("expected violation %q in:\n%v", sentinel, err)
		}
	}
	if len(gve.Violations()) < 7 {
		t.Errorf("expected at least 7 violations, got %d", len(gve.Violations()))
	}
}

func TestCompile_NoOutgoingEdge(t *testing.T) {
	_, err := NewStateGraph(countItemsSchema()).
		AddNode("a", returns(nil)).
		AddEdge(constants.Start, "a").
		Compile()
	if !stderrors.Is(err, validation.ErrNoOutgoingEdge) {
		t.Fatalf("expected ErrNoOutgoingEdge, got %v", err)
	}
}

func TestCompile_RouteTargetsMustExist(t *testing.T) {
	route := func(context.Context, State) (string, error) { return "a", nil }
	_, err := NewStateGraph(countItemsSchema()).
		AddNode("a", returns(nil)).
		AddEdge(constants.Start, "a").
		AddConditionalEdge("a", route, "a", "summarize", constants.End).
		Compile()
	if !stderrors.Is(err, validation.ErrDanglingEdge) {
		t.Fatalf("expected ErrDanglingEdge for undeclared target, got %v", err)
	}
}

func TestCompile_FanOutSiblingsOnSingleWriterKey(t *testing.T) {
	schema := NewSchema(Key("answer", channels.NewLastValue[string]()))
	_, err := NewStateGraph(schema).
		AddNode("a", returns(nil), WithWrites("answer")).
		AddNode("b", returns(nil), WithWrites("answer")).
		AddEdge(constants.Start, "a").
		AddEdge(constants.Start, "b").
		AddEdge("a", constants.End).
		AddEdge("b", constants.End).
		Compile()
	if !stderrors.Is(err, validation.ErrConcurrentWrite) {
		t.Fatalf("expected ErrConcurrentWrite, got %v", err)
	}
}

func TestCompile_SchemaProblemsReported(t *testing.T) {
	schema := NewSchema(
		Key("x", channels.NewLastValue[int]()),
		Key("x", channels.NewLastValue[int]()),
		Key("y", nil),
	)
	_, err := NewStateGraph(schema).
		AddNode("a", nil).
		AddEdge(constants.Start, "a").
		AddEdge("a", constants.End).
		Compile()
	var gve *errors.GraphValidationError
	if !stderrors.As(err, &gve) {
		t.Fatalf("expected GraphValidationError, got %v", err)
	}
	if len(gve.Violations()) != 3 {
		t.Errorf("expected 3 violations, got %d:\n%v", len(gve.Violations()), err)
	}
}

func TestCompile_NilSchema(t *testing.T) {
	_, err := NewStateGraph(nil).
		AddNode("a", returns(nil)).
		AddEdge(constants.Start, "a").
		AddEdge("a", constants.End).
		Compile()
	if !errors.IsGraphValidationError(err) {
		t.Fatalf("expected GraphValidationError, got %v", err)
	}
}

func TestCompile_CyclesAllowed(t *testing.T) {
	route := func(context.Context, State) (string, error) { return constants.End, nil }
	_, err := NewStateGraph(countItemsSchema()).
		AddNode("agent", returns(nil)).
		AddNode("tools", returns(nil)).
		AddEdge(constants.Start, "agent").
		AddConditionalEdge("agent", route, "tools", constants.End).
		AddEdge("tools", "agent").
		Compile()
	if err != nil {
		t.Fatalf("expected loop graph to compile, got %v", err)
	}
}
