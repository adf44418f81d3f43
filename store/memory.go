package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type record struct {
	value     map[string]any
	createdAt time.Time
	updatedAt time.Time
}

// InMemoryStore is an in-memory implementation of Store. It is safe for
// concurrent use.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*record
	now  func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]map[string]*record),
		now:  time.Now,
	}
}

// Get retrieves an item.
func (s *InMemoryStore) Get(ctx context.Context, namespace []string, key string) (*Item, error) {
	ns, err := nsKey(namespace)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[ns][key]
	if !ok {
		return nil, nil
	}
	return s.item(ns, key, rec)
}

// Put stores an item, replacing any previous value.
func (s *InMemoryStore) Put(ctx context.Context, namespace []string, key string, value map[string]any) error {
	ns, err := nsKey(namespace)
	if err != nil {
		return err
	}
	copied, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if _, ok := s.data[ns]; !ok {
		s.data[ns] = make(map[string]*record)
	}
	created := now
	if prev, ok := s.data[ns][key]; ok {
		created = prev.createdAt
	}
	s.data[ns][key] = &record{value: copied, createdAt: created, updatedAt: now}
	return nil
}

// Delete removes an item.
func (s *InMemoryStore) Delete(ctx context.Context, namespace []string, key string) error {
	ns, err := nsKey(namespace)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if nsData, ok := s.data[ns]; ok {
		delete(nsData, key)
		if len(nsData) == 0 {
			delete(s.data, ns)
		}
	}
	return nil
}

// Search returns the items under prefix that match opts.
func (s *InMemoryStore) Search(ctx context.Context, prefix []string, opts SearchOptions) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*Item
	for ns, nsData := range s.data {
		if !hasPrefix(splitNS(ns), prefix) {
			continue
		}
		for key, rec := range nsData {
			it, err := s.item(ns, key, rec)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
	}
	return page(items, opts), nil
}

// ListNamespaces lists the namespaces under prefix.
func (s *InMemoryStore) ListNamespaces(ctx context.Context, prefix []string, maxDepth int) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]string
	for _, ns := range slices.Sorted(maps.Keys(s.data)) {
		if parts := splitNS(ns); hasPrefix(parts, prefix) {
			out = append(out, parts)
		}
	}
	return truncateNamespaces(out, maxDepth), nil
}

func (s *InMemoryStore) item(ns, key string, rec *record) (*Item, error) {
	value, err := normalize(rec.value)
	if err != nil {
		return nil, err
	}
	return &Item{
		Namespace: splitNS(ns),
		Key:       key,
		Value:     value,
		CreatedAt: rec.createdAt,
		UpdatedAt: rec.updatedAt,
	}, nil
}

var _ Store = (*InMemoryStore)(nil)
