package message

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"
)

func ids(turns []Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.ID
	}
	return out
}

func TestMerge(t *testing.T) {
	a := Turn{ID: "a", Role: RoleHuman, Content: "hi"}
	b := Turn{ID: "b", Role: RoleAI, Content: "hello"}
	c := Turn{ID: "c", Role: RoleHuman, Content: "bye"}

	tests := []struct {
		name    string
		current []Turn
		update  []Turn
		want    []string
		wantErr bool
	}{
		{"append", []Turn{a}, []Turn{b, c}, []string{"a", "b", "c"}, false},
		{"replace keeps position", []Turn{a, b}, []Turn{{ID: "a", Role: RoleHuman, Content: "edited"}}, []string{"a", "b"}, false},
		{"remove", []Turn{a, b, c}, []Turn{Remove("b")}, []string{"a", "c"}, false},
		{"remove all then add", []Turn{a, b}, []Turn{RemoveAll(), c}, []string{"c"}, false},
		{"remove added in same update", []Turn{a}, []Turn{c, Remove("c")}, []string{"a"}, false},
		{"remove unknown", []Turn{a}, []Turn{Remove("zzz")}, nil, true},
		{"remove twice", []Turn{a, b}, []Turn{Remove("a"), Remove("a")}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.current, tt.update)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Merge() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	current := []Turn{{ID: "a", Content: "one"}}
	got, err := Merge(current, []Turn{{ID: "a", Content: "two"}, {Content: "new"}})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if current[0].Content != "one" {
		t.Errorf("current modified: %+v", current)
	}
	if got[0].Content != "two" || got[1].ID == "" {
		t.Errorf("unexpected merge result %+v", got)
	}
}

func TestTrimLast(t *testing.T) {
	turns := []Turn{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	tombstones := TrimLast(turns, 2)
	if diff := cmp.Diff([]Turn{Remove("1"), Remove("2")}, tombstones); diff != "" {
		t.Errorf("tombstones mismatch (-want +got):\n%s", diff)
	}
	kept, err := Merge(turns, tombstones)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if diff := cmp.Diff([]string{"3", "4"}, ids(kept)); diff != "" {
		t.Errorf("kept mismatch (-want +got):\n%s", diff)
	}
	if TrimLast(turns, 10) != nil {
		t.Error("expected no tombstones when nothing exceeds the limit")
	}
}

func TestHelpers(t *testing.T) {
	call := ToolInvocation{ID: "call-1", Name: "search"}
	turns := []Turn{System("be brief"), Human("q"), AI("", call), Tool(call, "result")}

	last, ok := Last(turns)
	if !ok || last.ToolCallID != "call-1" || last.Name != "search" {
		t.Errorf("unexpected last turn %+v", last)
	}
	if _, ok := Last(nil); ok {
		t.Error("expected no last turn of an empty conversation")
	}
	if got := FilterByRole(turns, RoleHuman, RoleAI); len(got) != 2 {
		t.Errorf("expected 2 human/ai turns, got %d", len(got))
	}
	if !RemoveAll().IsRemoval() || Human("x").IsRemoval() {
		t.Error("unexpected IsRemoval result")
	}
}

func TestWithRetry(t *testing.T) {
	errFlaky := errors.New("flaky")
	tests := []struct {
		name         string
		failures     int
		permanent    bool
		wantAttempts int
		wantErr      bool
	}{
		{"succeeds first time", 0, false, 1, false},
		{"recovers", 2, false, 3, false},
		{"exhausted", 5, false, 4, true},
		{"permanent", 5, true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			model := func(context.Context, []Turn) (Turn, []ToolInvocation, error) {
				attempts++
				if attempts <= tt.failures {
					if tt.permanent {
						return Turn{}, nil, backoff.Permanent(errFlaky)
					}
					return Turn{}, nil, errFlaky
				}
				return AI("ok"), nil, nil
			}
			policy := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
			reply, _, err := WithRetry(model, policy)(context.Background(), nil)

			if attempts != tt.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tt.wantAttempts, attempts)
			}
			if !tt.wantErr {
				if err != nil || reply.Content != "ok" {
					t.Fatalf("expected ok reply, got %+v, %v", reply, err)
				}
				return
			}
			var rerr *RetryExhaustedError
			if !errors.As(err, &rerr) || !errors.Is(err, errFlaky) {
				t.Fatalf("expected RetryExhaustedError wrapping flaky, got %v", err)
			}
			if rerr.Attempts != tt.wantAttempts {
				t.Errorf("expected %d attempts recorded, got %d", tt.wantAttempts, rerr.Attempts)
			}
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := func(context.Context, []Turn) (Turn, []ToolInvocation, error) {
		return Turn{}, nil, errors.New("down")
	}
	_, _, err := WithRetry(model, backoff.NewConstantBackOff(0))(ctx, nil)
	var rerr *RetryExhaustedError
	if err == nil || errors.As(err, &rerr) {
		t.Fatalf("expected plain context error, got %v", err)
	}
}
