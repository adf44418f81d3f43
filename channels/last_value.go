package channels

import "reflect"

// LastValue keeps the most recent value written to a key. It accepts a single
// writer per super-step.
type LastValue[T any] struct{}

// NewLastValue creates an Overwrite reducer for values of type T.
func NewLastValue[T any]() *LastValue[T] {
	return &LastValue[T]{}
}

// Kind returns Overwrite.
func (r *LastValue[T]) Kind() Kind { return Overwrite }

// Type returns T.
func (r *LastValue[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

// Zero returns the zero value of T.
func (r *LastValue[T]) Zero() any { return zeroOf(r.Type()) }

// AllowsConcurrentWrites returns false: two writers would race for the key.
func (r *LastValue[T]) AllowsConcurrentWrites() bool { return false }

// Reduce returns update, converted to T.
func (r *LastValue[T]) Reduce(_, update any) (any, error) {
	v, err := coerce[T](update)
	if err != nil {
		return nil, invalid(err)
	}
	return v, nil
}
