package validation

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/langgraph-go/stategraph/constants"
)

func chain() *Validator {
	v := NewValidator()
	v.DeclareKey("count", true)
	v.DeclareKey("answer", false)
	v.AddNode("a", []string{"count"})
	v.AddNode("b", nil)
	v.AddEdge(constants.Start, "a")
	v.AddEdge("a", "b")
	v.AddEdge("b", constants.End)
	return v
}

func TestValidate_Valid(t *testing.T) {
	if errs := chain().Validate(); len(errs) != 0 {
		t.Fatalf("expected no violations, got %v", errs)
	}
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name  string
		build func(v *Validator)
		want  error
	}{
		{"start to end", func(v *Validator) { v.AddEdge(constants.Start, constants.End) }, ErrInvalidEdge},
		{"edge into start", func(v *Validator) { v.AddEdge("b", constants.Start) }, ErrInvalidEdge},
		{"duplicate edge", func(v *Validator) { v.AddEdge("a", "b") }, ErrInvalidEdge},
		{"edge from end", func(v *Validator) { v.AddEdge(constants.End, "a") }, ErrDanglingEdge},
		{"route from unknown", func(v *Validator) { v.AddRoute("ghost", []string{"a"}) }, ErrDanglingEdge},
		{"route to start", func(v *Validator) { v.AddRoute("b", []string{constants.Start}) }, ErrInvalidTargets},
		{"route target twice", func(v *Validator) { v.AddRoute("b", []string{"a", "a"}) }, ErrInvalidTargets},
		{"empty name", func(v *Validator) { v.AddNode("", nil) }, ErrReservedName},
		{"start as node", func(v *Validator) { v.AddNode(constants.Start, nil) }, ErrReservedName},
		{"undeclared write", func(v *Validator) { v.AddNode("c", []string{"nope"}); v.AddEdge("b", "c") }, ErrUndeclaredWrite},
		{"unreachable", func(v *Validator) { v.AddNode("c", nil); v.AddEdge("c", constants.End) }, ErrUnreachable},
		{"reported", func(v *Validator) { v.Report(ErrNoEntry) }, ErrNoEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := chain()
			tt.build(v)
			errs := v.Validate()
			if !errors.Is(errors.Join(errs...), tt.want) {
				t.Errorf("expected %v among %v", tt.want, errs)
			}
		})
	}
}

func TestValidate_SiblingWrites(t *testing.T) {
	v := NewValidator()
	v.DeclareKey("answer", false)
	v.DeclareKey("items", true)
	for _, n := range []string{"x", "y", "z"} {
		writes := []string{"items"}
		if n != "z" {
			writes = append(writes, "answer")
		}
		v.AddNode(n, writes)
		v.AddEdge(constants.Start, n)
		v.AddEdge(n, constants.End)
	}
	errs := v.Validate()
	if len(errs) != 1 || !errors.Is(errs[0], ErrConcurrentWrite) {
		t.Fatalf("expected one concurrent write violation, got %v", errs)
	}
}

func TestValidate_ConditionalEntry(t *testing.T) {
	v := NewValidator()
	v.AddNode("a", nil)
	v.AddNode("b", nil)
	v.AddRoute(constants.Start, []string{"a", "b"})
	v.AddEdge("a", constants.End)
	v.AddEdge("b", constants.End)
	if errs := v.Validate(); len(errs) != 0 {
		t.Fatalf("expected conditional entry to be valid, got %v", errs)
	}
}

func TestReachable(t *testing.T) {
	v := chain()
	v.AddNode("tools", nil)
	v.AddNode("island", nil)
	v.AddRoute("b", []string{"tools", constants.End})
	v.AddEdge("tools", "b")
	v.AddEdge("island", "tools")

	got := v.Reachable()
	want := map[string]bool{constants.Start: true, "a": true, "b": true, "tools": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reachable mismatch (-want +got):\n%s", diff)
	}
}
