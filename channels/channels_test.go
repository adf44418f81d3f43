package channels

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/langgraph-go/stategraph/errors"
)

func TestLastValue(t *testing.T) {
	r := NewLastValue[string]()

	if r.Kind() != Overwrite {
		t.Errorf("Expected Overwrite, got %s", r.Kind())
	}
	if r.Zero() != "" {
		t.Errorf("Expected empty zero value, got %v", r.Zero())
	}
	if r.AllowsConcurrentWrites() {
		t.Error("Expected LastValue to reject concurrent writes")
	}

	got, err := r.Reduce("old", "new")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "new" {
		t.Errorf("Expected 'new', got %v", got)
	}

	_, err = r.Reduce("old", 42)
	if !errors.IsInvalidUpdateError(err) {
		t.Errorf("Expected InvalidUpdateError, got %v", err)
	}
}

func TestLastValueNumericConversion(t *testing.T) {
	r := NewLastValue[int64]()

	got, err := r.Reduce(int64(0), 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != int64(7) {
		t.Errorf("Expected int64(7), got %#v", got)
	}

	if _, err := NewLastValue[int]().Reduce(0, 1.5); err == nil {
		t.Error("Expected lossy float to int conversion to fail")
	}
	if _, err := NewLastValue[uint]().Reduce(uint(0), -1); err == nil {
		t.Error("Expected negative to unsigned conversion to fail")
	}
}

func TestTopic(t *testing.T) {
	r := NewTopic[string]()

	got, err := r.Reduce(nil, []string{"a"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Errorf("Nil old value should count as empty (-want +got):\n%s", diff)
	}

	got, err = r.Reduce(got, "b")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("Single element should be appended (-want +got):\n%s", diff)
	}

	got, err = r.Reduce(got, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("Nil update should be a no-op (-want +got):\n%s", diff)
	}

	if _, err := r.Reduce(got, 3); !errors.IsInvalidUpdateError(err) {
		t.Errorf("Expected InvalidUpdateError, got %v", err)
	}
}

func TestTopicDoesNotAliasInput(t *testing.T) {
	r := NewTopic[int]()
	old := make([]int, 1, 8)
	old[0] = 1

	a, _ := r.Reduce(old, []int{2})
	b, _ := r.Reduce(old, []int{3})

	if diff := cmp.Diff([]int{1, 2}, a); diff != "" {
		t.Errorf("First result changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 3}, b); diff != "" {
		t.Errorf("Second result changed (-want +got):\n%s", diff)
	}
}

func TestAccumulator(t *testing.T) {
	r := NewAccumulator[int]()

	if r.Zero() != 0 {
		t.Errorf("Expected zero 0, got %v", r.Zero())
	}
	got, err := r.Reduce(nil, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got, err = r.Reduce(got, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != 3 {
		t.Errorf("Expected 3, got %v", got)
	}

	f := NewAccumulator[float64]()
	sum, err := f.Reduce(0.5, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sum != 2.5 {
		t.Errorf("Expected 2.5, got %v", sum)
	}

	if _, err := r.Reduce(0, "one"); !errors.IsInvalidUpdateError(err) {
		t.Errorf("Expected InvalidUpdateError, got %v", err)
	}
}

func TestBinaryOperatorAggregate(t *testing.T) {
	maxOp := func(current, update int) (int, error) {
		return max(current, update), nil
	}
	r := NewBinaryOperatorAggregate(maxOp, true)

	if r.Kind() != Custom {
		t.Errorf("Expected Custom, got %s", r.Kind())
	}
	got, err := r.Reduce(4, 9)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != 9 {
		t.Errorf("Expected 9, got %v", got)
	}

	failing := NewBinaryOperatorAggregate(func(current, update string) (string, error) {
		return "", fmt.Errorf("rejected %q", update)
	}, false)
	if _, err := failing.Reduce("", "x"); err == nil {
		t.Error("Expected operator error to be returned")
	}
	if failing.AllowsConcurrentWrites() {
		t.Error("Expected non-concurrent custom reducer")
	}
}

// Append and Accumulate must not depend on the order parallel branches finish
// in once the executor has fixed the writer order. Accumulate must not depend
// on writer order at all.
func TestReducersOrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 2 + rng.Intn(6)
		updates := make([]int, n)
		for i := range updates {
			updates[i] = rng.Intn(100) - 50
		}

		want := fold(t, NewAccumulator[int](), updates)
		perm := rng.Perm(n)
		shuffled := make([]int, n)
		for i, p := range perm {
			shuffled[i] = updates[p]
		}
		if got := fold(t, NewAccumulator[int](), shuffled); got != want {
			t.Fatalf("Accumulate depends on order: %v gave %v, %v gave %v", updates, want, shuffled, got)
		}

		// Associativity of concatenation: (a+b)+c == a+(b+c).
		topic := NewTopic[int]()
		left, _ := topic.Reduce(nil, updates[:1])
		left, _ = topic.Reduce(left, updates[1:])
		right, _ := topic.Reduce(nil, updates[1:])
		right, _ = topic.Reduce(updates[:1], right)
		if diff := cmp.Diff(left, right); diff != "" {
			t.Fatalf("Append is not associative (-left +right):\n%s", diff)
		}
	}
}

func fold(t *testing.T, r Reducer, updates []int) any {
	t.Helper()
	acc := r.Zero()
	for _, u := range updates {
		var err error
		if acc, err = r.Reduce(acc, u); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	return acc
}

func TestByTag(t *testing.T) {
	tests := []struct {
		tag    string
		typ    reflect.Type
		kind   Kind
		old    any
		update any
		want   any
	}{
		{"", reflect.TypeFor[string](), Overwrite, "a", "b", "b"},
		{"append", reflect.TypeFor[[]string](), Append, []string{"a"}, []string{"b", "c"}, []string{"a", "b", "c"}},
		{"append", reflect.TypeFor[[]string](), Append, nil, "x", []string{"x"}},
		{"add", reflect.TypeFor[int](), Accumulate, 2, 3, 5},
		{"add", reflect.TypeFor[float64](), Accumulate, 0.5, 1, 1.5},
		{"add", reflect.TypeFor[uint8](), Accumulate, uint8(1), 2, uint8(3)},
		{"add", reflect.TypeFor[int](), Accumulate, 4, nil, 4},
		{"add", reflect.TypeFor[int](), Accumulate, nil, 3, 3},
		{"add", reflect.TypeFor[int](), Accumulate, nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.typ.String(), func(t *testing.T) {
			r, err := ByTag(tt.tag, tt.typ)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if r.Kind() != tt.kind {
				t.Errorf("Expected %s, got %s", tt.kind, r.Kind())
			}
			got, err := r.Reduce(tt.old, tt.update)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Unexpected result (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := ByTag("add", reflect.TypeFor[string]()); err == nil {
		t.Error("Expected error for accumulate over string")
	}
	if _, err := ByTag("append", reflect.TypeFor[int]()); err == nil {
		t.Error("Expected error for append over int")
	}
	if _, err := ByTag("median", reflect.TypeFor[int]()); err == nil {
		t.Error("Expected error for unknown tag")
	}
}

func TestAccumulateNilIsIdentity(t *testing.T) {
	tagged, err := ByTag("add", reflect.TypeFor[int]())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, r := range []Reducer{NewAccumulator[int](), tagged} {
		for _, old := range []any{nil, 7} {
			got, err := r.Reduce(old, nil)
			if err != nil {
				t.Fatalf("%T: unexpected error for nil update: %v", r, err)
			}
			want := 0
			if old != nil {
				want = old.(int)
			}
			if got != want {
				t.Errorf("%T: Reduce(%v, nil) = %v, want %d", r, old, got, want)
			}
		}
	}
}
