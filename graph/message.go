package graph

import (
	"github.com/langgraph-go/stategraph/channels"
	"github.com/langgraph-go/stategraph/message"
)

// AddMessages returns the reducer of a conversation key. Updates are a
// message.Turn or a []message.Turn: turns with a known ID replace the stored
// turn, new turns are appended and tombstones from message.Remove or
// message.RemoveAll delete history. Parallel writers are merged in node
// registration order.
func AddMessages() channels.Reducer {
	return messagesReducer{channels.NewBinaryOperatorAggregate[[]message.Turn](message.Merge, true)}
}

type messagesReducer struct {
	*channels.BinaryOperatorAggregate[[]message.Turn]
}

// Reduce accepts a single turn as a one-turn update.
func (r messagesReducer) Reduce(old, update any) (any, error) {
	if t, ok := update.(message.Turn); ok {
		update = []message.Turn{t}
	}
	return r.BinaryOperatorAggregate.Reduce(old, update)
}

// Messages returns the conversation held under key.
func Messages(s State, key string) []message.Turn {
	return Value[[]message.Turn](s, key)
}
