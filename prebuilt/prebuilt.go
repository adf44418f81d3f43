// Package prebuilt provides ready-made nodes and routers for conversational
// graphs: a model node, a tool node and the router between them.
package prebuilt

import (
	"context"
	"fmt"

	"github.com/langgraph-go/stategraph/constants"
	"github.com/langgraph-go/stategraph/graph"
	"github.com/langgraph-go/stategraph/message"
	"github.com/langgraph-go/stategraph/runtime"
)

const (
	// MessagesKey is the state key holding the conversation.
	MessagesKey = "messages"
	// AgentNode and ToolsNode name the nodes of NewReactAgent.
	AgentNode = "agent"
	ToolsNode = "tools"
)

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Func        func(ctx context.Context, args map[string]any) (string, error)
}

// MessagesSchema declares a conversation key reduced by AddMessages plus any
// extra fields.
func MessagesSchema(extra ...graph.Field) *graph.Schema {
	fields := append([]graph.Field{graph.Key(MessagesKey, graph.AddMessages())}, extra...)
	return graph.NewSchema(fields...)
}

// ModelNode calls model with the conversation and appends its reply.
func ModelNode(model message.ModelFunc) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) (graph.Update, error) {
		turns := graph.Messages(s, MessagesKey)
		reply, calls, err := model(ctx, turns)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		if reply.Role == "" {
			reply.Role = message.RoleAI
		}
		if len(calls) > 0 {
			reply.ToolCalls = calls
		}
		runtime.Logger(ctx).V(2).Info("model replied", "tool_calls", len(reply.ToolCalls))
		return graph.Update{MessagesKey: []message.Turn{reply}}, nil
	}
}

// ToolNode runs the tool calls of the last model turn, in order, and appends
// one tool turn per call. A failing or unknown tool produces an error turn
// so the model can react to it.
func ToolNode(tools map[string]Tool) graph.NodeFunc {
	return func(ctx context.Context, s graph.State) (graph.Update, error) {
		last, ok := message.Last(graph.Messages(s, MessagesKey))
		if !ok || len(last.ToolCalls) == 0 {
			return nil, nil
		}
		log := runtime.Logger(ctx)
		out := make([]message.Turn, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			tool, ok := tools[call.Name]
			if !ok {
				out = append(out, message.Tool(call, fmt.Sprintf("Tool error: unknown tool %q", call.Name)))
				continue
			}
			result, err := tool.Func(ctx, call.Args)
			if err != nil {
				log.V(1).Info("tool failed", "tool", call.Name, "error", err.Error())
				result = fmt.Sprintf("Tool error: %v", err)
			}
			out = append(out, message.Tool(call, result))
		}
		return graph.Update{MessagesKey: out}, nil
	}
}

// ToolsCondition routes to the tools node when the last turn requests tool
// calls and to END otherwise.
func ToolsCondition(_ context.Context, s graph.State) (string, error) {
	last, ok := message.Last(graph.Messages(s, MessagesKey))
	if ok && len(last.ToolCalls) > 0 {
		return ToolsNode, nil
	}
	return constants.End, nil
}

// NewReactAgent builds the model/tool loop: START -> agent, agent -> tools
// while the model requests tools, tools -> agent.
func NewReactAgent(model message.ModelFunc, tools []Tool, opts ...graph.CompileOption) (*graph.Compiled, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	g := graph.NewStateGraph(MessagesSchema()).
		AddNode(AgentNode, ModelNode(model), graph.WithWrites(MessagesKey), graph.WithDescription("calls the model")).
		AddNode(ToolsNode, ToolNode(byName), graph.WithWrites(MessagesKey), graph.WithDescription("runs requested tools")).
		AddEdge(constants.Start, AgentNode).
		AddConditionalEdge(AgentNode, ToolsCondition, ToolsNode, constants.End).
		AddEdge(ToolsNode, AgentNode)
	return g.Compile(opts...)
}
