// Package worker runs batches of independent tasks on a bounded pool.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Task is one unit of work. Run should honour ctx; a task that ignores it
// is abandoned once its timeout passes.
type Task[T any] struct {
	ID  string
	Run func(ctx context.Context) T
}

// Outcome reports how a task finished
type Outcome[T any] struct {
	ID       string
	Index    int // position of the task in the submitted batch
	Value    T
	TimedOut bool
	Err      error // set when the task panicked or was cancelled
	Elapsed  time.Duration
}

// runTask runs one task under its own timeout. The task body executes in a
// separate goroutine so a stuck task cannot hold the worker past the
// deadline; its late result lands in a buffered channel and is discarded.
func runTask[T any](ctx context.Context, index int, task Task[T], timeout time.Duration) Outcome[T] {
	start := time.Now()
	out := Outcome[T]{ID: task.ID, Index: index}

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type done struct {
		value T
		err   error
	}
	ch := make(chan done, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- done{err: fmt.Errorf("task %s panicked: %v\n%s", task.ID, r, debug.Stack())}
			}
		}()
		ch <- done{value: task.Run(taskCtx)}
	}()

	select {
	case d := <-ch:
		out.Value = d.value
		out.Err = d.err
	case <-taskCtx.Done():
		if ctx.Err() != nil {
			out.Err = ctx.Err()
		} else {
			out.TimedOut = true
			out.Err = fmt.Errorf("task %s exceeded %s: %w", task.ID, timeout, context.DeadlineExceeded)
		}
	}
	out.Elapsed = time.Since(start)
	return out
}
