package service

import (
	"context"
	"fmt"
)

// Outcome is the settled result of an asynchronous call.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Submit runs fn on its own goroutine and returns a channel that receives
// exactly one Outcome. The channel is buffered, so fn never blocks on a caller
// that stopped listening. A panic in fn is reported as an error outcome.
func Submit[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Outcome[T] {
	out := make(chan Outcome[T], 1)
	go func() {
		var o Outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o = Outcome[T]{Err: fmt.Errorf("async call panicked: %v", r)}
			}
			out <- o
			close(out)
		}()
		o.Value, o.Err = fn(ctx)
	}()
	return out
}

// Await waits for the outcome of a Submit call or for ctx to end, whichever comes first.
// When ctx ends first the returned error wraps ctx.Err().
func Await[T any](ctx context.Context, ch <-chan Outcome[T]) (T, error) {
	select {
	case o := <-ch:
		return o.Value, o.Err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("gave up waiting: %w", ctx.Err())
	}
}
