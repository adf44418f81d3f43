// Package message provides conversational turns, the model collaborator
// signature and the helpers used to keep a conversation history in graph
// state.
package message

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Roles of a turn.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
	RoleTool   = "tool"
	// RoleRemove marks a tombstone: a turn that deletes the turn with its ID.
	RoleRemove = "remove"
)

// RemoveAllID is the tombstone ID that clears the whole history.
const RemoveAllID = "__remove_all__"

// ToolInvocation is a tool call requested by the model.
type ToolInvocation struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Turn is one message of a conversation.
type Turn struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
}

// Human creates a user turn.
func Human(content string) Turn {
	return Turn{ID: uuid.NewString(), Role: RoleHuman, Content: content}
}

// AI creates a model turn.
func AI(content string, calls ...ToolInvocation) Turn {
	return Turn{ID: uuid.NewString(), Role: RoleAI, Content: content, ToolCalls: calls}
}

// System creates a system turn.
func System(content string) Turn {
	return Turn{ID: uuid.NewString(), Role: RoleSystem, Content: content}
}

// Tool creates the result turn of a tool invocation.
func Tool(call ToolInvocation, content string) Turn {
	return Turn{ID: uuid.NewString(), Role: RoleTool, Name: call.Name, ToolCallID: call.ID, Content: content}
}

// Remove creates a tombstone deleting the turn with the given ID.
func Remove(id string) Turn {
	return Turn{ID: id, Role: RoleRemove}
}

// RemoveAll creates a tombstone clearing every earlier turn.
func RemoveAll() Turn {
	return Turn{ID: RemoveAllID, Role: RoleRemove}
}

// IsRemoval reports whether t is a tombstone.
func (t Turn) IsRemoval() bool {
	return t.Role == RoleRemove
}

// Merge appends update to current. A turn whose ID is already present
// replaces it in place, a turn without ID gets a fresh one, and tombstones
// delete by ID. RemoveAll drops every turn before it, including earlier
// turns of the same update. Removing an unknown ID is an error. Neither
// input is modified.
func Merge(current, update []Turn) ([]Turn, error) {
	out := slices.Clone(current)
	if out == nil {
		out = []Turn{}
	}
	pos := make(map[string]int, len(out))
	for i, t := range out {
		pos[t.ID] = i
	}
	removed := map[string]bool{}

	for _, t := range update {
		switch {
		case t.IsRemoval() && t.ID == RemoveAllID:
			out = out[:0:0]
			clear(pos)
			clear(removed)
		case t.IsRemoval():
			if _, ok := pos[t.ID]; !ok || removed[t.ID] {
				return nil, fmt.Errorf("cannot remove turn '%s': no such turn", t.ID)
			}
			removed[t.ID] = true
		default:
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			if i, ok := pos[t.ID]; ok {
				out[i] = t
				delete(removed, t.ID)
				continue
			}
			pos[t.ID] = len(out)
			out = append(out, t)
		}
	}

	if len(removed) == 0 {
		return out, nil
	}
	kept := make([]Turn, 0, len(out)-len(removed))
	for _, t := range out {
		if !removed[t.ID] {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// TrimLast returns tombstones removing all but the last n turns.
func TrimLast(turns []Turn, n int) []Turn {
	if n < 0 {
		n = 0
	}
	if len(turns) <= n {
		return nil
	}
	out := make([]Turn, 0, len(turns)-n)
	for _, t := range turns[:len(turns)-n] {
		out = append(out, Remove(t.ID))
	}
	return out
}

// Last returns the final turn, if any.
func Last(turns []Turn) (Turn, bool) {
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}

// FilterByRole returns the turns with one of the given roles.
func FilterByRole(turns []Turn, roles ...string) []Turn {
	var out []Turn
	for _, t := range turns {
		if slices.Contains(roles, t.Role) {
			out = append(out, t)
		}
	}
	return out
}
