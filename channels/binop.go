package channels

import (
	"reflect"

	"golang.org/x/exp/constraints"
)

// Number is the set of types an Accumulator can sum.
type Number interface {
	constraints.Integer | constraints.Float
}

// Accumulator sums numeric updates into the current value.
type Accumulator[N Number] struct{}

// NewAccumulator creates an Accumulate reducer for N.
func NewAccumulator[N Number]() *Accumulator[N] {
	return &Accumulator[N]{}
}

// Kind returns Accumulate.
func (r *Accumulator[N]) Kind() Kind { return Accumulate }

// Type returns N.
func (r *Accumulator[N]) Type() reflect.Type { return reflect.TypeFor[N]() }

// Zero returns 0, the identity of addition.
func (r *Accumulator[N]) Zero() any { return N(0) }

// AllowsConcurrentWrites returns true: addition is associative and commutative.
func (r *Accumulator[N]) AllowsConcurrentWrites() bool { return true }

// Reduce returns old + update.
func (r *Accumulator[N]) Reduce(old, update any) (any, error) {
	var a N
	if old != nil {
		var err error
		if a, err = coerce[N](old); err != nil {
			return nil, invalid(err)
		}
	}
	if update == nil {
		return a, nil
	}
	b, err := coerce[N](update)
	if err != nil {
		return nil, invalid(err)
	}
	return a + b, nil
}

// BinaryOperator combines the current value of a key with an update. It must
// be pure and total over T, including T's zero value which stands for "no
// previous value".
type BinaryOperator[T any] func(current, update T) (T, error)

// BinaryOperatorAggregate applies a user supplied operator to every update.
type BinaryOperatorAggregate[T any] struct {
	operator   BinaryOperator[T]
	concurrent bool
}

// NewBinaryOperatorAggregate creates a Custom reducer. Set concurrent only when
// op is associative and commutative with T's zero value as identity; keys
// whose reducer is not concurrent accept one writer per super-step.
func NewBinaryOperatorAggregate[T any](op BinaryOperator[T], concurrent bool) *BinaryOperatorAggregate[T] {
	return &BinaryOperatorAggregate[T]{operator: op, concurrent: concurrent}
}

// Kind returns Custom.
func (r *BinaryOperatorAggregate[T]) Kind() Kind { return Custom }

// Type returns T.
func (r *BinaryOperatorAggregate[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

// Zero returns the zero value of T.
func (r *BinaryOperatorAggregate[T]) Zero() any { return zeroOf(r.Type()) }

// AllowsConcurrentWrites reports the flag given at construction.
func (r *BinaryOperatorAggregate[T]) AllowsConcurrentWrites() bool { return r.concurrent }

// Reduce applies the operator.
func (r *BinaryOperatorAggregate[T]) Reduce(old, update any) (any, error) {
	current, err := coerce[T](old)
	if err != nil {
		return nil, invalid(err)
	}
	next, err := coerce[T](update)
	if err != nil {
		return nil, invalid(err)
	}
	return r.operator(current, next)
}
