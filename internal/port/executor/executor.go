// Package executor defines the port for per-mode task executors.
package executor

import (
	"context"
	"time"

	"github.com/taskfabric/taskfabric/internal/domain/task"
)

// Executor runs the underlying action of a task. One implementation is
// registered per execution mode: the direct executor, the worker agent
// executor, and the full-loop orchestrator executor.
type Executor interface {
	Execute(ctx context.Context, t *task.Task, timeout time.Duration) (*task.Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, t *task.Task, timeout time.Duration) (*task.Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, t *task.Task, timeout time.Duration) (*task.Result, error) {
	return f(ctx, t, timeout)
}
