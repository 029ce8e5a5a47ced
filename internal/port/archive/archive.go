// Package archive defines the port for persisting terminal task snapshots.
package archive

import (
	"context"

	"github.com/taskfabric/taskfabric/internal/domain/task"
)

// Archiver stores tasks once they reach a terminal state. The in-memory
// registry remains the hot path; the archive is a durable record.
type Archiver interface {
	Archive(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
}
