package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"SchemaViolation", &SchemaViolationError{Keys: []string{"x"}}, ErrorCodeSchemaViolation},
		{"InvalidUpdate", &InvalidUpdateError{Key: "count"}, ErrorCodeInvalidUpdate},
		{"ConcurrentUpdate", &ConcurrentUpdateError{Key: "k"}, ErrorCodeInvalidConcurrentGraphUpdate},
		{"Routing", &RoutingError{Source: "a", Target: "b"}, ErrorCodeRouting},
		{"NodeExecution", &NodeExecutionError{Node: "a", Cause: cause}, ErrorCodeNodeExecution},
		{"CheckpointIO", &CheckpointIOError{Op: "save", Cause: cause}, ErrorCodeCheckpointIO},
		{"CheckpointConflict", &CheckpointIOError{Op: "save", Conflict: true, Cause: cause}, ErrorCodeCheckpointConflict},
		{"Recursion", &GraphRecursionError{Limit: 3}, ErrorCodeGraphRecursionLimit},
		{"Cancelled", &CancelledError{Cause: cause}, ErrorCodeCancellation},
		{"Wrapped", fmt.Errorf("outer: %w", &RoutingError{Source: "a"}), ErrorCodeRouting},
		{"Plain", cause, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestGraphValidationErrorListsAllViolations(t *testing.T) {
	if NewGraphValidationError() != nil {
		t.Fatal("Expected nil for no violations")
	}

	err := NewGraphValidationError(
		fmt.Errorf("edge from 'a' targets unknown node 'x'"),
		nil,
		&SchemaViolationError{Node: "b", Keys: []string{"bogus"}},
	)
	if err == nil {
		t.Fatal("Expected error")
	}
	if got := len(err.Violations()); got != 2 {
		t.Fatalf("Expected 2 violations, got %d", got)
	}
	msg := err.Error()
	if !strings.Contains(msg, "2 violation(s)") || !strings.Contains(msg, "unknown node 'x'") || !strings.Contains(msg, "bogus") {
		t.Errorf("Unexpected message: %s", msg)
	}
	if !IsGraphValidationError(fmt.Errorf("compile: %w", err)) {
		t.Error("Expected wrapped GraphValidationError to be detected")
	}
	if !IsSchemaViolation(err) {
		t.Error("Expected violations to be reachable through errors.As")
	}
}

func TestNodeExecutionErrorUnwrap(t *testing.T) {
	cause := stderrors.New("model unavailable")
	err := &NodeExecutionError{Node: "agent", ThreadID: "t1", Step: 4, Cause: cause}

	if !stderrors.Is(err, cause) {
		t.Error("Expected cause to be reachable")
	}
	for _, want := range []string{"agent", "t1", "step 4", "model unavailable"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected message to contain %q, got %s", want, err.Error())
		}
	}
	if IsRoutingError(err) {
		t.Error("Expected NodeExecutionError not to be a RoutingError")
	}
}

func TestRoutingErrorMessage(t *testing.T) {
	err := &RoutingError{ThreadID: "t", Step: 1, Source: "router", Target: "nowhere", Allowed: []string{"a", "__end__"}}
	if !strings.Contains(err.Error(), "'nowhere'") || !strings.Contains(err.Error(), "a, __end__") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
