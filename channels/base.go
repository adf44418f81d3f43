// Package channels provides the per-key merge policies ("reducers") of a
// state schema.
//
// Every reducer is pure: Reduce never mutates old or update and always
// returns a fresh value, so state snapshots built from it can be shared
// freely between goroutines.
package channels

import (
	"fmt"
	"reflect"
)

// Kind identifies the merge policy of a reducer.
type Kind int

const (
	// Overwrite replaces the old value with the new one.
	Overwrite Kind = iota
	// Append concatenates sequences, preserving insertion order.
	Append
	// Accumulate sums numeric values.
	Accumulate
	// Custom applies a user supplied binary function.
	Custom
)

func (k Kind) String() string {
	switch k {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	case Accumulate:
		return "accumulate"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Reducer merges updates into the current value of one state key.
type Reducer interface {
	// Kind returns the merge policy.
	Kind() Kind
	// Type returns the declared value type of the key.
	Type() reflect.Type
	// Zero returns the value of a key that was never written.
	Zero() any
	// Reduce merges update into old. old is always a value of Type().
	Reduce(old, update any) (any, error)
	// AllowsConcurrentWrites reports whether several nodes of one super-step
	// may write the key. Reducers that return false keep a single writer per
	// step so the merged result cannot depend on branch order.
	AllowsConcurrentWrites() bool
}

// zeroOf returns the zero value of rt, with empty rather than nil slices and maps.
func zeroOf(rt reflect.Type) any {
	switch rt.Kind() {
	case reflect.Slice:
		return reflect.MakeSlice(rt, 0, 0).Interface()
	case reflect.Map:
		return reflect.MakeMap(rt).Interface()
	}
	return reflect.Zero(rt).Interface()
}
