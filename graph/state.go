package graph

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/langgraph-go/stategraph/channels"
	"github.com/langgraph-go/stategraph/errors"
)

// Field declares one state key and its reducer.
type Field struct {
	Name    string
	Reducer channels.Reducer
}

// Key declares a state key.
func Key(name string, reducer channels.Reducer) Field {
	return Field{Name: name, Reducer: reducer}
}

// Schema is the ordered set of keys a graph's state holds. Problems found
// while declaring it are reported by Compile together with every other
// structural defect.
type Schema struct {
	fields []Field
	index  map[string]int
	errs   []error
}

// NewSchema creates a schema from fields in declaration order.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		switch {
		case f.Name == "":
			s.errs = append(s.errs, fmt.Errorf("schema key with empty name"))
			continue
		case f.Reducer == nil:
			s.errs = append(s.errs, fmt.Errorf("schema key '%s' has no reducer", f.Name))
			continue
		}
		if _, dup := s.index[f.Name]; dup {
			s.errs = append(s.errs, fmt.Errorf("schema key '%s' declared twice", f.Name))
			continue
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s
}

// SchemaFromStruct derives a schema from the exported fields of a struct.
// The `state` tag names the key and its reducer:
//
//	type Research struct {
//		Question string   `state:"question"`
//		Context  []string `state:"context,reducer=append"`
//		Hits     int      `state:"hits,reducer=add"`
//		Scratch  string   `state:"-"`
//	}
func SchemaFromStruct(v any) (*Schema, error) {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("state schema must be a struct, got %v", t)
	}

	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("state")
		if tag == "-" {
			continue
		}
		name, reducerName := sf.Name, ""
		for j, part := range strings.Split(tag, ",") {
			part = strings.TrimSpace(part)
			if j == 0 {
				if part != "" {
					name = part
				}
				continue
			}
			k, val, ok := strings.Cut(part, "=")
			if !ok || strings.TrimSpace(k) != "reducer" {
				return nil, fmt.Errorf("field %s: invalid tag option %q", sf.Name, part)
			}
			reducerName = val
		}
		r, err := channels.ByTag(reducerName, sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		fields = append(fields, Key(name, r))
	}
	s := NewSchema(fields...)
	if len(s.errs) > 0 {
		return nil, s.errs[0]
	}
	return s, nil
}

// Fields returns the declared fields in order.
func (s *Schema) Fields() []Field {
	return slices.Clone(s.fields)
}

// Keys returns the declared key names in order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Name
	}
	return keys
}

// Has reports whether key is declared.
func (s *Schema) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Reducer returns the reducer of key.
func (s *Schema) Reducer(key string) (channels.Reducer, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.fields[i].Reducer, true
}

// Initial returns a state holding every key's zero value.
func (s *Schema) Initial() State {
	values := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		values[f.Name] = f.Reducer.Zero()
	}
	return State{values: values}
}

// Restore rebuilds a state from persisted values. Values that do not already
// have their key's declared type are converted through JSON, which is how
// every checkpoint backend encodes them. Keys missing from values take their
// zero value; keys the schema does not declare are dropped.
func (s *Schema) Restore(values map[string]any) (State, error) {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		raw, ok := values[f.Name]
		if !ok || raw == nil {
			out[f.Name] = f.Reducer.Zero()
			continue
		}
		rt := f.Reducer.Type()
		if reflect.TypeOf(raw) == rt {
			out[f.Name] = raw
			continue
		}
		v, err := convert(rt, raw)
		if err != nil {
			return State{}, fmt.Errorf("restore key '%s': %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return State{values: out}, nil
}

// Coerce converts loosely typed input, such as a decoded JSON request body,
// into an update holding each key's declared type. A sequence key also
// accepts a single element. Values already of the right type and keys the
// schema does not declare are passed through, leaving the latter for the
// merge to reject.
func (s *Schema) Coerce(values map[string]any) (Update, error) {
	if values == nil {
		return nil, nil
	}
	out := make(Update, len(values))
	for _, k := range slices.Sorted(maps.Keys(values)) {
		raw := values[k]
		r, ok := s.Reducer(k)
		if !ok || raw == nil {
			out[k] = raw
			continue
		}
		rt, got := r.Type(), reflect.TypeOf(raw)
		if got == rt || (rt.Kind() == reflect.Slice && got == rt.Elem()) {
			out[k] = raw
			continue
		}
		v, err := convert(rt, raw)
		if err != nil && rt.Kind() == reflect.Slice {
			v, err = convert(rt.Elem(), raw)
		}
		if err != nil {
			return nil, &errors.InvalidUpdateError{
				Key:     k,
				Message: fmt.Sprintf("cannot convert %T to %s", raw, rt),
			}
		}
		out[k] = v
	}
	return out, nil
}

// convert re-decodes v as a value of rt through JSON.
func convert(rt reflect.Type, v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(rt)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// State is an immutable snapshot of graph state. Values returned by Get are
// shared with other snapshots and must be treated as read-only.
type State struct {
	values map[string]any
}

// NewState creates a snapshot holding a copy of values.
func NewState(values map[string]any) State {
	return State{values: maps.Clone(values)}
}

// Get returns the value of key, or nil when absent.
func (s State) Get(key string) any {
	return s.values[key]
}

// Lookup returns the value of key and whether it is present.
func (s State) Lookup(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the keys of the snapshot in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the number of keys.
func (s State) Len() int {
	return len(s.values)
}

// Values returns a copy of the key/value mapping.
func (s State) Values() map[string]any {
	out := maps.Clone(s.values)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// Value returns the value of key as T, or T's zero value when the key is
// absent or holds another type.
func Value[T any](s State, key string) T {
	v, _ := s.values[key].(T)
	return v
}

// Update is the partial state a node returns. It may name any subset of the
// schema's keys.
type Update map[string]any

// NodeUpdate is the output of one node within a super-step.
type NodeUpdate struct {
	Node   string
	Update Update
}

// Merge applies update to old through the schema's reducers. Keys absent from
// update are carried over unchanged. old is never modified.
func Merge(schema *Schema, old State, update Update) (State, error) {
	return MergeAll(schema, old, []NodeUpdate{{Update: update}})
}

// MergeAll merges the outputs of one super-step into old, in the order given.
// Every update is checked before any is applied, so the result is either the
// fully merged state or an error with old left as it was.
func MergeAll(schema *Schema, old State, updates []NodeUpdate) (State, error) {
	writers := make(map[string][]string)
	for _, nu := range updates {
		var undeclared []string
		for k := range nu.Update {
			if !schema.Has(k) {
				undeclared = append(undeclared, k)
			}
			writers[k] = append(writers[k], nu.Node)
		}
		if len(undeclared) > 0 {
			slices.Sort(undeclared)
			return old, &errors.SchemaViolationError{Node: nu.Node, Keys: undeclared}
		}
	}
	for _, f := range schema.fields {
		if w := writers[f.Name]; len(w) > 1 && !f.Reducer.AllowsConcurrentWrites() {
			return old, &errors.ConcurrentUpdateError{Key: f.Name, Nodes: w}
		}
	}

	next := make(map[string]any, len(schema.fields))
	for _, f := range schema.fields {
		if v, ok := old.values[f.Name]; ok {
			next[f.Name] = v
		} else {
			next[f.Name] = f.Reducer.Zero()
		}
	}
	for _, nu := range updates {
		for _, k := range slices.Sorted(maps.Keys(nu.Update)) {
			r, _ := schema.Reducer(k)
			merged, err := r.Reduce(next[k], nu.Update[k])
			if err != nil {
				return old, &errors.InvalidUpdateError{Key: k, Message: reducerMessage(nu.Node, err)}
			}
			next[k] = merged
		}
	}
	return State{values: next}, nil
}

func reducerMessage(node string, err error) string {
	var inv *errors.InvalidUpdateError
	msg := err.Error()
	if stderrors.As(err, &inv) {
		msg = inv.Message
	}
	if node == "" {
		return msg
	}
	return fmt.Sprintf("node '%s': %s", node, msg)
}
