package channels

import (
	"fmt"
	"reflect"
)

// Topic concatenates every value written to a key, in write order. An absent
// old value counts as empty and a nil update leaves the sequence unchanged.
type Topic[E any] struct{}

// NewTopic creates an Append reducer over []E.
func NewTopic[E any]() *Topic[E] {
	return &Topic[E]{}
}

// Kind returns Append.
func (r *Topic[E]) Kind() Kind { return Append }

// Type returns []E.
func (r *Topic[E]) Type() reflect.Type { return reflect.TypeFor[[]E]() }

// Zero returns an empty, non-nil []E.
func (r *Topic[E]) Zero() any { return []E{} }

// AllowsConcurrentWrites returns true. Concatenation is associative with the
// empty sequence as identity, and the executor fixes the order of writers.
func (r *Topic[E]) AllowsConcurrentWrites() bool { return true }

// Reduce appends update to old. update may be a []E or a single E.
func (r *Topic[E]) Reduce(old, update any) (any, error) {
	var base []E
	if old != nil {
		var ok bool
		if base, ok = old.([]E); !ok {
			return nil, invalid(fmt.Errorf("expected current value of type []%s, got %T", reflect.TypeFor[E](), old))
		}
	}
	var extra []E
	switch u := update.(type) {
	case nil:
	case []E:
		extra = u
	case E:
		extra = []E{u}
	default:
		return nil, invalid(fmt.Errorf("expected []%s or %s, got %T", reflect.TypeFor[E](), reflect.TypeFor[E](), update))
	}
	out := make([]E, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...), nil
}
