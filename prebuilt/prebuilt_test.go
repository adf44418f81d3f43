package prebuilt

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/langgraph-go/stategraph/checkpoint"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/errors"
	"github.com/langgraph-go/stategraph/graph"
	"github.com/langgraph-go/stategraph/message"
)

func conversation(turns ...message.Turn) graph.State {
	return graph.NewState(map[string]any{MessagesKey: turns})
}

func TestModelNode(t *testing.T) {
	call := message.ToolInvocation{ID: "c1", Name: "add"}
	model := func(_ context.Context, turns []message.Turn) (message.Turn, []message.ToolInvocation, error) {
		return message.Turn{Content: fmt.Sprintf("seen %d", len(turns))}, []message.ToolInvocation{call}, nil
	}
	upd, err := ModelNode(model)(context.Background(), conversation(message.Human("hi")))
	if err != nil {
		t.Fatalf("ModelNode failed: %v", err)
	}
	turns := upd[MessagesKey].([]message.Turn)
	if len(turns) != 1 || turns[0].Role != message.RoleAI || turns[0].Content != "seen 1" {
		t.Fatalf("unexpected reply %+v", turns)
	}
	if diff := cmp.Diff([]message.ToolInvocation{call}, turns[0].ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}

	failing := func(context.Context, []message.Turn) (message.Turn, []message.ToolInvocation, error) {
		return message.Turn{}, nil, fmt.Errorf("rate limited")
	}
	if _, err := ModelNode(failing)(context.Background(), conversation()); err == nil {
		t.Error("expected model error to propagate")
	}
}

func TestToolNode(t *testing.T) {
	tools := map[string]Tool{
		"echo": {Name: "echo", Func: func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprint(args["text"]), nil
		}},
		"broken": {Name: "broken", Func: func(context.Context, map[string]any) (string, error) {
			return "", fmt.Errorf("disk full")
		}},
	}
	ask := message.AI("",
		message.ToolInvocation{ID: "1", Name: "echo", Args: map[string]any{"text": "hey"}},
		message.ToolInvocation{ID: "2", Name: "broken"},
		message.ToolInvocation{ID: "3", Name: "missing"},
	)
	upd, err := ToolNode(tools)(context.Background(), conversation(message.Human("go"), ask))
	if err != nil {
		t.Fatalf("ToolNode failed: %v", err)
	}

	var got []string
	for _, turn := range upd[MessagesKey].([]message.Turn) {
		if turn.Role != message.RoleTool {
			t.Errorf("expected tool turn, got role %s", turn.Role)
		}
		got = append(got, turn.ToolCallID+":"+turn.Content)
	}
	want := []string{"1:hey", "2:Tool error: disk full", `3:Tool error: unknown tool "missing"`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tool results mismatch (-want +got):\n%s", diff)
	}

	upd, err = ToolNode(tools)(context.Background(), conversation(message.AI("done")))
	if err != nil || upd != nil {
		t.Errorf("expected no update without tool calls, got %v, %v", upd, err)
	}
}

func TestToolsCondition(t *testing.T) {
	tests := []struct {
		name string
		st   graph.State
		want string
	}{
		{"empty", conversation(), constants.End},
		{"plain reply", conversation(message.AI("hi")), constants.End},
		{"tool call", conversation(message.AI("", message.ToolInvocation{ID: "1", Name: "x"})), ToolsNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToolsCondition(context.Background(), tt.st)
			if err != nil || got != tt.want {
				t.Errorf("ToolsCondition() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

// scriptedModel asks for the add tool once, then answers with its result.
func scriptedModel(_ context.Context, turns []message.Turn) (message.Turn, []message.ToolInvocation, error) {
	last, _ := message.Last(turns)
	if last.Role == message.RoleTool {
		return message.AI("the answer is " + last.Content), nil, nil
	}
	return message.AI("let me add"), []message.ToolInvocation{{ID: "c1", Name: "add", Args: map[string]any{"a": 2.0, "b": 3.0}}}, nil
}

func TestNewReactAgent(t *testing.T) {
	add := Tool{
		Name:        "add",
		Description: "adds two numbers",
		Func: func(_ context.Context, args map[string]any) (string, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return fmt.Sprint(a + b), nil
		},
	}
	agent, err := NewReactAgent(scriptedModel, []Tool{add}, graph.WithCheckpointer(checkpoint.NewMemorySaver()))
	if err != nil {
		t.Fatalf("NewReactAgent failed: %v", err)
	}

	st, err := agent.Run(context.Background(), graph.Update{MessagesKey: []message.Turn{message.Human("2+3?")}}, "react")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var roles []string
	for _, turn := range graph.Messages(st, MessagesKey) {
		roles = append(roles, turn.Role)
	}
	if diff := cmp.Diff([]string{"human", "ai", "tool", "ai"}, roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	last, _ := message.Last(graph.Messages(st, MessagesKey))
	if !strings.HasSuffix(last.Content, "5") {
		t.Errorf("expected final answer 5, got %q", last.Content)
	}

	history, err := agent.History(context.Background(), "react")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("expected input plus 3 step checkpoints, got %d", len(history))
	}
}

func TestNewReactAgent_RequiresModel(t *testing.T) {
	if _, err := NewReactAgent(nil, nil); err == nil {
		t.Fatal("expected error without a model")
	}
}

func TestNewReactAgent_LoopBounded(t *testing.T) {
	greedy := func(context.Context, []message.Turn) (message.Turn, []message.ToolInvocation, error) {
		return message.AI(""), []message.ToolInvocation{{ID: "x", Name: "noop"}}, nil
	}
	noop := Tool{Name: "noop", Func: func(context.Context, map[string]any) (string, error) { return "", nil }}
	agent, err := NewReactAgent(greedy, []Tool{noop}, graph.WithRecursionLimit(4))
	if err != nil {
		t.Fatalf("NewReactAgent failed: %v", err)
	}
	_, err = agent.Run(context.Background(), nil, "")
	if !errors.IsGraphRecursionError(err) {
		t.Fatalf("expected recursion limit error, got %v", err)
	}
}
