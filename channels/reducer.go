package channels

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/langgraph-go/stategraph/errors"
)

// coerce converts v into T. Numeric values are converted only when the
// conversion is lossless, so an int literal can feed an int64 or float64 key.
func coerce[T any](v any) (T, error) {
	var zero T
	rt := reflect.TypeFor[T]()
	out, err := coerceTo(rt, v)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}

func coerceTo(rt reflect.Type, v any) (any, error) {
	if v == nil {
		if nillable(rt) {
			return nil, nil
		}
		return nil, fmt.Errorf("nil is not a valid %s", rt)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(rt) {
		if rt.Kind() == reflect.Interface {
			return v, nil
		}
		return rv.Convert(rt).Interface(), nil
	}
	if numeric(rv.Kind()) && numeric(rt.Kind()) {
		converted := rv.Convert(rt)
		negative := (rv.CanInt() && rv.Int() < 0) || (rv.CanFloat() && rv.Float() < 0)
		if !(negative && converted.CanUint()) && converted.Convert(rv.Type()).Equal(rv) {
			return converted.Interface(), nil
		}
		return nil, fmt.Errorf("%v does not fit %s without loss", v, rt)
	}
	return nil, fmt.Errorf("expected %s, got %T", rt, v)
}

func nillable(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func invalid(err error) error {
	return &errors.InvalidUpdateError{Message: err.Error()}
}

// ForType builds a reducer of the given kind for a type only known at run
// time. It backs struct-tag schemas. Custom reducers need a function and
// cannot be built this way.
func ForType(kind Kind, rt reflect.Type) (Reducer, error) {
	switch kind {
	case Overwrite:
		return &dynamicReducer{kind: kind, rt: rt}, nil
	case Append:
		if rt.Kind() != reflect.Slice {
			return nil, fmt.Errorf("append reducer needs a slice type, got %s", rt)
		}
		return &dynamicReducer{kind: kind, rt: rt}, nil
	case Accumulate:
		if !numeric(rt.Kind()) {
			return nil, fmt.Errorf("accumulate reducer needs a numeric type, got %s", rt)
		}
		return &dynamicReducer{kind: kind, rt: rt}, nil
	}
	return nil, fmt.Errorf("cannot build a %s reducer for %s", kind, rt)
}

// ByTag resolves a struct tag reducer name ("overwrite", "append", "add").
// An empty tag selects Overwrite.
func ByTag(tag string, rt reflect.Type) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "overwrite", "last":
		return ForType(Overwrite, rt)
	case "append", "concat":
		return ForType(Append, rt)
	case "add", "sum", "accumulate":
		return ForType(Accumulate, rt)
	}
	return nil, fmt.Errorf("unknown reducer %q", tag)
}

type dynamicReducer struct {
	kind Kind
	rt   reflect.Type
}

func (r *dynamicReducer) Kind() Kind         { return r.kind }
func (r *dynamicReducer) Type() reflect.Type { return r.rt }
func (r *dynamicReducer) Zero() any          { return zeroOf(r.rt) }

func (r *dynamicReducer) AllowsConcurrentWrites() bool {
	return r.kind != Overwrite
}

func (r *dynamicReducer) Reduce(old, update any) (any, error) {
	switch r.kind {
	case Append:
		base := reflect.ValueOf(old)
		if old == nil {
			base = reflect.MakeSlice(r.rt, 0, 0)
		}
		if update == nil {
			return r.clone(base).Interface(), nil
		}
		uv := reflect.ValueOf(update)
		if uv.Type().AssignableTo(r.rt.Elem()) {
			return reflect.Append(r.clone(base), uv).Interface(), nil
		}
		if !uv.Type().AssignableTo(r.rt) {
			return nil, invalid(fmt.Errorf("expected %s or %s, got %T", r.rt, r.rt.Elem(), update))
		}
		return reflect.AppendSlice(r.clone(base), uv).Interface(), nil
	case Accumulate:
		if old == nil {
			old = zeroOf(r.rt)
		}
		base, err := coerceTo(r.rt, old)
		if err != nil {
			return nil, invalid(err)
		}
		if update == nil {
			return base, nil
		}
		inc, err := coerceTo(r.rt, update)
		if err != nil {
			return nil, invalid(err)
		}
		a, b := reflect.ValueOf(base), reflect.ValueOf(inc)
		sum := reflect.New(r.rt).Elem()
		switch {
		case a.CanInt():
			sum.SetInt(a.Int() + b.Int())
		case a.CanUint():
			sum.SetUint(a.Uint() + b.Uint())
		default:
			sum.SetFloat(a.Float() + b.Float())
		}
		return sum.Interface(), nil
	}
	v, err := coerceTo(r.rt, update)
	if err != nil {
		return nil, invalid(err)
	}
	if v == nil {
		return reflect.Zero(r.rt).Interface(), nil
	}
	return v, nil
}

func (r *dynamicReducer) clone(v reflect.Value) reflect.Value {
	out := reflect.MakeSlice(r.rt, v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}
