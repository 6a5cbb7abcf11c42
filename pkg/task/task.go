// Package task runs a blocking call in the background so a caller can report
// progress or stop waiting while it finishes.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task is a blocking call running in its own goroutine.
type Task[T any] struct {
	done    chan struct{}
	once    sync.Once
	started time.Time
	value   T
	err     error
}

// Run starts fn in a goroutine. fn receives ctx; a call that does not watch
// ctx runs to completion even after ctx is canceled.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{
		done:    make(chan struct{}),
		started: time.Now(),
	}
	go func() {
		defer t.finish()
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		t.value, t.err = fn(ctx)
	}()
	return t
}

func (t *Task[T]) finish() {
	t.once.Do(func() {
		close(t.done)
	})
}

// Done is closed once the call has returned.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Elapsed is the time since the task started.
func (t *Task[T]) Elapsed() time.Duration {
	return time.Since(t.started)
}

// Wait blocks until the call returns or ctx is done. Giving up on ctx does
// not stop the call.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitTicking is Wait that calls tick every interval until the call returns.
func (t *Task[T]) WaitTicking(ctx context.Context, interval time.Duration, tick func(elapsed time.Duration)) (T, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return t.value, t.err
		case <-ticker.C:
			tick(t.Elapsed())
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
