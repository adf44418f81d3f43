package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("BasicOperations", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		namespace := []string{"memory", "user-1"}

		missing, err := s.Get(ctx, namespace, "user_profile")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if missing != nil {
			t.Fatalf("Expected nil for missing item, got %v", missing)
		}

		if err := s.Put(ctx, namespace, "user_profile", map[string]any{"memory": "likes go", "age": 30}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		item, err := s.Get(ctx, namespace, "user_profile")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item == nil || item.Value["memory"] != "likes go" {
			t.Fatalf("Expected stored memory, got %+v", item)
		}
		if diff := cmp.Diff(namespace, item.Namespace); diff != "" {
			t.Errorf("Unexpected namespace (-want +got):\n%s", diff)
		}

		if err := s.Delete(ctx, namespace, "user_profile"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if item, _ := s.Get(ctx, namespace, "user_profile"); item != nil {
			t.Errorf("Expected nil after delete, got %v", item)
		}
		if err := s.Delete(ctx, namespace, "user_profile"); err != nil {
			t.Errorf("Deleting a missing item should succeed, got %v", err)
		}
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ns := []string{"memory", "u"}

		for i := 0; i < 3; i++ {
			if err := s.Put(ctx, ns, "k", map[string]any{"v": i}); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		item, err := s.Get(ctx, ns, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item.Value["v"] != float64(2) {
			t.Errorf("Expected last write 2, got %v", item.Value["v"])
		}
		if item.UpdatedAt.Before(item.CreatedAt) {
			t.Errorf("Expected updated_at >= created_at, got %v < %v", item.UpdatedAt, item.CreatedAt)
		}
	})

	t.Run("NamespacesAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		if err := s.Put(ctx, []string{"memory", "alice"}, "user_profile", map[string]any{"name": "alice"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		item, err := s.Get(ctx, []string{"memory", "bob"}, "user_profile")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if item != nil {
			t.Errorf("Expected bob to see nothing, got %v", item.Value)
		}
	})

	t.Run("InvalidNamespace", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, ns := range [][]string{nil, {""}, {"a|b"}} {
			if err := s.Put(ctx, ns, "k", nil); !errors.Is(err, ErrInvalidNamespace) {
				t.Errorf("Expected ErrInvalidNamespace for %q, got %v", ns, err)
			}
		}
	})

	t.Run("SearchAndList", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		puts := []struct {
			ns    []string
			key   string
			value map[string]any
		}{
			{[]string{"docs", "a"}, "1", map[string]any{"content": "Hello world", "lang": "en"}},
			{[]string{"docs", "a"}, "2", map[string]any{"content": "foo bar", "lang": "en"}},
			{[]string{"docs", "b", "deep"}, "3", map[string]any{"content": "hello again", "lang": "de"}},
			{[]string{"docs_x"}, "4", map[string]any{"content": "hello sibling"}},
		}
		for _, p := range puts {
			if err := s.Put(ctx, p.ns, p.key, p.value); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}

		hits, err := s.Search(ctx, []string{"docs"}, SearchOptions{Query: "hello"})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if got := keys(hits); !cmp.Equal(got, []string{"1", "3"}) {
			t.Errorf("Expected keys [1 3], got %v", got)
		}

		hits, err = s.Search(ctx, []string{"docs"}, SearchOptions{Filter: map[string]any{"lang": "en"}, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if got := keys(hits); !cmp.Equal(got, []string{"2"}) {
			t.Errorf("Expected keys [2], got %v", got)
		}

		namespaces, err := s.ListNamespaces(ctx, []string{"docs"}, 0)
		if err != nil {
			t.Fatalf("ListNamespaces failed: %v", err)
		}
		if diff := cmp.Diff([][]string{{"docs", "a"}, {"docs", "b", "deep"}}, namespaces); diff != "" {
			t.Errorf("Unexpected namespaces (-want +got):\n%s", diff)
		}

		namespaces, err = s.ListNamespaces(ctx, nil, 1)
		if err != nil {
			t.Fatalf("ListNamespaces failed: %v", err)
		}
		if diff := cmp.Diff([][]string{{"docs"}, {"docs_x"}}, namespaces); diff != "" {
			t.Errorf("Unexpected truncated namespaces (-want +got):\n%s", diff)
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ns := []string{"memory", "shared"}

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					key := fmt.Sprintf("k%d", i%3)
					if err := s.Put(ctx, ns, key, map[string]any{"writer": w}); err != nil {
						t.Errorf("Put failed: %v", err)
					}
					if _, err := s.Get(ctx, ns, key); err != nil {
						t.Errorf("Get failed: %v", err)
					}
				}
			}(w)
		}
		wg.Wait()

		hits, err := s.Search(ctx, ns, SearchOptions{})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(hits) != 3 {
			t.Errorf("Expected 3 keys, got %d", len(hits))
		}
	})
}

func keys(items []*Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

func TestInMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestSqliteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
		if err != nil {
			t.Fatalf("Failed to open sqlite store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestInMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	tags := []any{"a"}
	value := map[string]any{"tags": tags}

	if err := s.Put(ctx, []string{"ns"}, "k", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	tags[0] = "mutated"
	value["extra"] = true

	item, _ := s.Get(ctx, []string{"ns"}, "k")
	item.Value["tags"] = "reader change"

	again, _ := s.Get(ctx, []string{"ns"}, "k")
	if diff := cmp.Diff(map[string]any{"tags": []any{"a"}}, again.Value); diff != "" {
		t.Errorf("Stored value was shared with callers (-want +got):\n%s", diff)
	}
}

func TestPutValueGetValue(t *testing.T) {
	type profile struct {
		Name      string   `json:"name"`
		Interests []string `json:"interests"`
	}
	ctx := context.Background()
	s := NewInMemoryStore()
	ns := []string{"memory", "u1"}

	found, err := GetValue(ctx, s, ns, "user_profile", &profile{})
	if err != nil || found {
		t.Fatalf("Expected missing profile, got found=%v err=%v", found, err)
	}

	want := profile{Name: "Lance", Interests: []string{"biking", "bakeries"}}
	if err := PutValue(ctx, s, ns, "user_profile", want); err != nil {
		t.Fatalf("PutValue failed: %v", err)
	}
	var got profile
	found, err = GetValue(ctx, s, ns, "user_profile", &got)
	if err != nil || !found {
		t.Fatalf("Expected profile, got found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected profile (-want +got):\n%s", diff)
	}

	if err := PutValue(ctx, s, ns, "bad", []string{"not", "an", "object"}); err == nil {
		t.Error("Expected error for non-object value")
	}
}
