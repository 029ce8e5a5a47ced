// Package classifier defines the port for the external strategy classifier.
package classifier

import (
	"context"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
)

// Classifier scores a task for complexity, risk, cost, and reversibility.
// Implementations live outside the core; the decider treats the call as a
// pure function of the task and fails closed when it is unavailable.
type Classifier interface {
	Classify(ctx context.Context, t *task.Task) (strategy.Classification, error)
}
