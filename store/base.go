// Package store provides namespaced long-lived memory that outlives any single
// thread.
//
// Records are addressed by (namespace, key) and follow last-write-wins. Writes
// are not tied to graph super-steps: a node that writes memory and then fails
// leaves the write in place.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

// ErrInvalidNamespace is returned for empty namespaces or labels that are
// empty or contain the separator.
var ErrInvalidNamespace = errors.New("invalid namespace")

const nsSep = "|"

// Store is the interface for namespaced memory backends. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the item, or nil with a nil error when it does not exist.
	Get(ctx context.Context, namespace []string, key string) (*Item, error)
	// Put creates or replaces the item.
	Put(ctx context.Context, namespace []string, key string, value map[string]any) error
	// Delete removes the item. Deleting a missing item is not an error.
	Delete(ctx context.Context, namespace []string, key string) error
	// Search returns items whose namespace starts with prefix.
	Search(ctx context.Context, prefix []string, opts SearchOptions) ([]*Item, error)
	// ListNamespaces returns the distinct namespaces starting with prefix,
	// truncated to maxDepth labels when maxDepth > 0.
	ListNamespaces(ctx context.Context, prefix []string, maxDepth int) ([][]string, error)
}

// Item represents a stored item with metadata.
type Item struct {
	Namespace []string
	Key       string
	Value     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode converts the item's value into v through JSON.
func (i *Item) Decode(v any) error {
	data, err := json.Marshal(i.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SearchOptions narrows a Search.
type SearchOptions struct {
	// Query keeps items with a string value containing it, case-insensitively.
	Query string
	// Filter keeps items whose fields equal the given values.
	Filter map[string]any
	Limit  int
	Offset int
}

// PutValue stores any JSON-encodable value as an item.
func PutValue(ctx context.Context, s Store, namespace []string, key string, v any) error {
	value, err := normalize(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, namespace, key, value)
}

// GetValue loads an item into v. It reports false when the item is missing.
func GetValue(ctx context.Context, s Store, namespace []string, key string, v any) (bool, error) {
	item, err := s.Get(ctx, namespace, key)
	if err != nil || item == nil {
		return false, err
	}
	return true, item.Decode(v)
}

func nsKey(namespace []string) (string, error) {
	if len(namespace) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	for _, label := range namespace {
		if label == "" || strings.Contains(label, nsSep) {
			return "", fmt.Errorf("%w: label %q", ErrInvalidNamespace, label)
		}
	}
	return strings.Join(namespace, nsSep), nil
}

func splitNS(key string) []string {
	return strings.Split(key, nsSep)
}

func hasPrefix(namespace, prefix []string) bool {
	return len(namespace) >= len(prefix) && slices.Equal(namespace[:len(prefix)], prefix)
}

// normalize encodes v to its JSON object form so every backend returns the
// same shapes and callers never share memory with the store.
func normalize(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("value must encode to a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func matches(item *Item, opts SearchOptions) bool {
	for k, want := range opts.Filter {
		got, ok := item.Value[k]
		if !ok {
			return false
		}
		normWant, err := normalize(map[string]any{"v": want})
		if err != nil || !reflect.DeepEqual(got, normWant["v"]) {
			return false
		}
	}
	if opts.Query == "" {
		return true
	}
	query := strings.ToLower(opts.Query)
	for _, v := range item.Value {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

// page sorts items by namespace and key, filters them and applies the
// offset and limit.
func page(items []*Item, opts SearchOptions) []*Item {
	slices.SortFunc(items, func(a, b *Item) int {
		if c := strings.Compare(strings.Join(a.Namespace, nsSep), strings.Join(b.Namespace, nsSep)); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	out := make([]*Item, 0, len(items))
	for _, it := range items {
		if matches(it, opts) {
			out = append(out, it)
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func truncateNamespaces(namespaces [][]string, maxDepth int) [][]string {
	seen := make(map[string]bool)
	var out [][]string
	for _, ns := range namespaces {
		if maxDepth > 0 && len(ns) > maxDepth {
			ns = ns[:maxDepth]
		}
		k := strings.Join(ns, nsSep)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ns)
	}
	slices.SortFunc(out, func(a, b []string) int {
		return strings.Compare(strings.Join(a, nsSep), strings.Join(b, nsSep))
	})
	return out
}
