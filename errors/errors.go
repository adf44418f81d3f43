// Package errors provides the error taxonomy of the graph engine.
//
// Every error type carries a stable ErrorCode and has an IsXxx helper that
// also matches wrapped errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrorCode represents specific error codes for the engine.
type ErrorCode string

const (
	// ErrorCodeSchemaViolation is raised when a node writes an undeclared key.
	ErrorCodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"
	// ErrorCodeInvalidUpdate is raised when a value does not fit its key's reducer.
	ErrorCodeInvalidUpdate ErrorCode = "INVALID_UPDATE"
	// ErrorCodeInvalidConcurrentGraphUpdate is raised when parallel nodes write a key that cannot take concurrent writes.
	ErrorCodeInvalidConcurrentGraphUpdate ErrorCode = "INVALID_CONCURRENT_GRAPH_UPDATE"
	// ErrorCodeGraphValidation is raised by Compile for structural defects.
	ErrorCodeGraphValidation ErrorCode = "GRAPH_VALIDATION"
	// ErrorCodeRouting is raised when a conditional edge returns an undeclared target.
	ErrorCodeRouting ErrorCode = "ROUTING"
	// ErrorCodeNodeExecution is raised when a node body fails.
	ErrorCodeNodeExecution ErrorCode = "NODE_EXECUTION"
	// ErrorCodeCheckpointIO is raised when a checkpoint backend fails.
	ErrorCodeCheckpointIO ErrorCode = "CHECKPOINT_IO"
	// ErrorCodeCheckpointConflict is raised when a checkpoint would rewrite history.
	ErrorCodeCheckpointConflict ErrorCode = "CHECKPOINT_CONFLICT"
	// ErrorCodeGraphRecursionLimit is raised when the graph exhausts the maximum number of steps.
	ErrorCodeGraphRecursionLimit ErrorCode = "GRAPH_RECURSION_LIMIT"
	// ErrorCodeCancellation is raised when the execution is cancelled.
	ErrorCodeCancellation ErrorCode = "CANCELLATION"
)

// SchemaViolationError is raised when an update contains keys the schema does not declare.
type SchemaViolationError struct {
	Node string
	Keys []string
}

func (e *SchemaViolationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("schema violation: undeclared keys %s", strings.Join(e.Keys, ", "))
	}
	return fmt.Sprintf("schema violation: node '%s' wrote undeclared keys %s", e.Node, strings.Join(e.Keys, ", "))
}

// Code returns the error code.
func (e *SchemaViolationError) Code() ErrorCode { return ErrorCodeSchemaViolation }

// IsSchemaViolation checks if an error is a SchemaViolationError.
func IsSchemaViolation(err error) bool {
	var target *SchemaViolationError
	return stderrors.As(err, &target)
}

// InvalidUpdateError is raised when a value cannot be merged by its key's reducer.
type InvalidUpdateError struct {
	Key     string
	Message string
}

func (e *InvalidUpdateError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid update: %s", e.Message)
	}
	return fmt.Sprintf("invalid update for key '%s': %s", e.Key, e.Message)
}

// Code returns the error code.
func (e *InvalidUpdateError) Code() ErrorCode { return ErrorCodeInvalidUpdate }

// IsInvalidUpdateError checks if an error is an InvalidUpdateError.
func IsInvalidUpdateError(err error) bool {
	var target *InvalidUpdateError
	return stderrors.As(err, &target)
}

// ConcurrentUpdateError is raised when several nodes of one super-step write a
// key whose reducer is not order independent.
type ConcurrentUpdateError struct {
	Key   string
	Nodes []string
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("key '%s' can receive only one value per step, got writes from %s",
		e.Key, strings.Join(e.Nodes, ", "))
}

// Code returns the error code.
func (e *ConcurrentUpdateError) Code() ErrorCode { return ErrorCodeInvalidConcurrentGraphUpdate }

// IsConcurrentUpdateError checks if an error is a ConcurrentUpdateError.
func IsConcurrentUpdateError(err error) bool {
	var target *ConcurrentUpdateError
	return stderrors.As(err, &target)
}

// GraphValidationError lists every structural defect found by Compile.
type GraphValidationError struct {
	err error
}

// NewGraphValidationError combines violations into one error. It returns nil
// when no violation is given.
func NewGraphValidationError(violations ...error) *GraphValidationError {
	combined := multierr.Combine(violations...)
	if combined == nil {
		return nil
	}
	return &GraphValidationError{err: combined}
}

func (e *GraphValidationError) Error() string {
	violations := e.Violations()
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph validation failed with %d violation(s):", len(violations))
	for _, v := range violations {
		sb.WriteString("\n  - ")
		sb.WriteString(v.Error())
	}
	return sb.String()
}

// Violations returns each violation separately.
func (e *GraphValidationError) Violations() []error {
	return multierr.Errors(e.err)
}

// Unwrap exposes the violations to errors.Is and errors.As.
func (e *GraphValidationError) Unwrap() []error {
	return e.Violations()
}

// Code returns the error code.
func (e *GraphValidationError) Code() ErrorCode { return ErrorCodeGraphValidation }

// IsGraphValidationError checks if an error is a GraphValidationError.
func IsGraphValidationError(err error) bool {
	var target *GraphValidationError
	return stderrors.As(err, &target)
}

// RoutingError is raised when a conditional edge returns a target outside its allowed set.
type RoutingError struct {
	ThreadID string
	Step     int
	Source   string
	Target   string
	Allowed  []string
	Cause    error
}

func (e *RoutingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("routing from '%s' failed (thread %s, step %d): %v", e.Source, e.ThreadID, e.Step, e.Cause)
	}
	return fmt.Sprintf("routing from '%s' returned undeclared target '%s' (thread %s, step %d); allowed: %s",
		e.Source, e.Target, e.ThreadID, e.Step, strings.Join(e.Allowed, ", "))
}

func (e *RoutingError) Unwrap() error { return e.Cause }

// Code returns the error code.
func (e *RoutingError) Code() ErrorCode { return ErrorCodeRouting }

// IsRoutingError checks if an error is a RoutingError.
func IsRoutingError(err error) bool {
	var target *RoutingError
	return stderrors.As(err, &target)
}

// NodeExecutionError is raised when a node body returns an error.
type NodeExecutionError struct {
	Node     string
	ThreadID string
	Step     int
	Cause    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node '%s' failed (thread %s, step %d): %v", e.Node, e.ThreadID, e.Step, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// Code returns the error code.
func (e *NodeExecutionError) Code() ErrorCode { return ErrorCodeNodeExecution }

// IsNodeExecutionError checks if an error is a NodeExecutionError.
func IsNodeExecutionError(err error) bool {
	var target *NodeExecutionError
	return stderrors.As(err, &target)
}

// CheckpointIOError is raised when a checkpoint backend fails to save or load.
type CheckpointIOError struct {
	Op       string
	ThreadID string
	Step     int
	// Conflict marks a save refused because the step already exists.
	Conflict bool
	Cause    error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s failed (thread %s, step %d): %v", e.Op, e.ThreadID, e.Step, e.Cause)
}

func (e *CheckpointIOError) Unwrap() error { return e.Cause }

// Code returns the error code.
func (e *CheckpointIOError) Code() ErrorCode {
	if e.Conflict {
		return ErrorCodeCheckpointConflict
	}
	return ErrorCodeCheckpointIO
}

// IsCheckpointIOError checks if an error is a CheckpointIOError.
func IsCheckpointIOError(err error) bool {
	var target *CheckpointIOError
	return stderrors.As(err, &target)
}

// GraphRecursionError is raised when the graph has exhausted the maximum number of steps.
type GraphRecursionError struct {
	Limit    int
	ThreadID string
}

func (e *GraphRecursionError) Error() string {
	return fmt.Sprintf(
		"graph recursion limit of %d reached on thread %s; run with a higher recursion_limit",
		e.Limit, e.ThreadID,
	)
}

// Code returns the error code.
func (e *GraphRecursionError) Code() ErrorCode { return ErrorCodeGraphRecursionLimit }

// IsGraphRecursionError checks if an error is a GraphRecursionError.
func IsGraphRecursionError(err error) bool {
	var target *GraphRecursionError
	return stderrors.As(err, &target)
}

// CancelledError is raised when a run is cancelled between super-steps.
type CancelledError struct {
	ThreadID string
	Step     int
	Cause    error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled (thread %s, step %d): %v", e.ThreadID, e.Step, e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// Code returns the error code.
func (e *CancelledError) Code() ErrorCode { return ErrorCodeCancellation }

// IsCancelled checks if an error is a CancelledError.
func IsCancelled(err error) bool {
	var target *CancelledError
	return stderrors.As(err, &target)
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var coded interface{ Code() ErrorCode }
	if stderrors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
