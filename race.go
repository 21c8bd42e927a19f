package gatekeeper

import (
	"context"
	"time"
)

type settled[T any] struct {
	value T
	err   error
}

// withDeadline runs fn and returns whichever settles first: fn's result or
// ErrTimeout once d elapses. fn receives a context that is cancelled when the
// race is lost, its late result is dropped.
func withDeadline[T any](ctx context.Context, d time.Duration, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan settled[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- settled[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return zero, wrapError(ErrTimeout, nil, map[string]any{
			"operation": operation,
			"after":     d.String(),
		})
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
