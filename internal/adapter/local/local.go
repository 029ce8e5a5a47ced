// Package local provides in-process collaborator implementations so the
// service runs standalone: a classifier that reads scores from the task
// context and echo executors for each mode. Production deployments replace
// these with real backends.
package local

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/port/executor"
)

// Classifier derives a classification from well-known task context keys
// ("complexity", "risk", "cost", "reversibility"). Missing keys fall back
// to a moderate default.
type Classifier struct{}

// NewClassifier creates the context-driven classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify reads classification scores from the task context.
func (c *Classifier) Classify(_ context.Context, t *task.Task) (strategy.Classification, error) {
	cls := strategy.Classification{
		Complexity:    3,
		Risk:          2,
		Reversibility: strategy.ReversibilityFull,
	}

	if v, ok := t.Context["complexity"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return strategy.Classification{}, fmt.Errorf("parse complexity %q: %w", v, err)
		}
		cls.Complexity = f
	}
	if v, ok := t.Context["risk"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return strategy.Classification{}, fmt.Errorf("parse risk %q: %w", v, err)
		}
		cls.Risk = f
	}
	if v, ok := t.Context["cost"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return strategy.Classification{}, fmt.Errorf("parse cost %q: %w", v, err)
		}
		cls.EstimatedCost = f
	}
	if v, ok := t.Context["reversibility"]; ok {
		cls.Reversibility = strategy.Reversibility(v)
	}

	return cls, nil
}

// NewExecutor returns an echo executor for the given mode. It completes
// immediately with the task description as output.
func NewExecutor(mode strategy.Mode) executor.Executor {
	return executor.Func(func(ctx context.Context, t *task.Task, _ time.Duration) (*task.Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		return &task.Result{
			Output: t.Description,
			Metadata: map[string]string{
				"executor": "local",
				"mode":     string(mode),
			},
			DurationMS: time.Since(started).Milliseconds(),
		}, nil
	})
}
