package visualization

import (
	"context"
	"strings"
	"testing"

	"github.com/langgraph-go/stategraph/channels"
	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/graph"
)

func agentGraph(t *testing.T) *graph.Compiled {
	t.Helper()
	schema := graph.NewSchema(graph.Key("count", channels.NewAccumulator[int]()))
	noop := func(context.Context, graph.State) (graph.Update, error) { return nil, nil }
	route := func(context.Context, graph.State) (string, error) { return constants.End, nil }
	c, err := graph.NewStateGraph(schema).
		AddNode("agent", noop, graph.WithWrites("count"), graph.WithDescription("calls the model")).
		AddNode("web-search", noop).
		AddEdge(constants.Start, "agent").
		AddConditionalEdge("agent", route, "web-search", constants.End).
		AddEdge("web-search", "agent").
		Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return c
}

func TestMermaid(t *testing.T) {
	out, err := Mermaid(agentGraph(t))
	if err != nil {
		t.Fatalf("Mermaid failed: %v", err)
	}
	for _, want := range []string{
		"graph TD",
		"__start((start))",
		`web_search["web-search"]`,
		"__start --> agent",
		"agent -.-> web_search",
		"agent -.-> __end",
		"web_search --> agent",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestDOT(t *testing.T) {
	out, err := DOT(agentGraph(t))
	if err != nil {
		t.Fatalf("DOT failed: %v", err)
	}
	for _, want := range []string{
		"digraph G {",
		"rankdir=LR;",
		`"__start__" -> "agent";`,
		`"agent" -> "web-search" [style=dashed];`,
		`"web-search" -> "agent";`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Error("expected closing brace")
	}
}

func TestASCII(t *testing.T) {
	out, err := Draw(agentGraph(t), &Options{Format: FormatASCII, ShowWrites: true})
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	for _, want := range []string{
		"agent [count] - calls the model",
		"START --> agent",
		"agent -?-> END",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestDraw_Styles(t *testing.T) {
	opts := DefaultOptions()
	opts.NodeStyles["agent"] = "fill:#e1f5e1"
	out, err := Draw(agentGraph(t), opts)
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if !strings.Contains(out, "style agent fill:#e1f5e1") {
		t.Errorf("expected node style in:\n%s", out)
	}
}

func TestDraw_Errors(t *testing.T) {
	if _, err := Draw(nil, nil); err == nil {
		t.Error("expected error for nil graph")
	}
	if _, err := Draw(agentGraph(t), &Options{Format: "svg"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestMermaidID(t *testing.T) {
	tests := map[string]string{
		"agent":      "agent",
		"web search": "web_search",
		"2nd.step":   "n2nd_step",
	}
	for in, want := range tests {
		if got := mermaidID(in); got != want {
			t.Errorf("mermaidID(%q) = %q, want %q", in, got, want)
		}
	}
}
