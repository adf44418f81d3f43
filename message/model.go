package message

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// ModelFunc is the external model collaborator: given the conversation so
// far it returns the model's reply and any tool calls it requests.
type ModelFunc func(ctx context.Context, turns []Turn) (Turn, []ToolInvocation, error)

type reply struct {
	turn  Turn
	calls []ToolInvocation
}

// RetryExhaustedError is returned when every attempt of a retried model
// call failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// WithRetry retries model according to b. Errors wrapped with
// backoff.Permanent are returned at once. The policy is reset for each call,
// so b must not be shared between concurrent callers.
func WithRetry(model ModelFunc, b backoff.BackOff) ModelFunc {
	return func(ctx context.Context, turns []Turn) (Turn, []ToolInvocation, error) {
		attempts := 0
		op := func() (reply, error) {
			attempts++
			t, calls, err := model(ctx, turns)
			return reply{turn: t, calls: calls}, err
		}
		r, err := backoff.RetryWithData(op, backoff.WithContext(b, ctx))
		if err != nil {
			if ctx.Err() != nil {
				return Turn{}, nil, err
			}
			return Turn{}, nil, &RetryExhaustedError{Attempts: attempts, LastErr: err}
		}
		return r.turn, r.calls, nil
	}
}
