// Package worker defines the Worker domain entity and pool introspection types.
package worker

import "time"

// SpecialtyGeneral is the specialty tag for workers without a declared aptitude.
const SpecialtyGeneral = "general"

// Status represents the current state of a pool worker.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusFaulted Status = "faulted"
)

// Worker is a pool member. The pool owns all workers and is the only
// mutator of their status; a worker holds at most one task at a time.
type Worker struct {
	ID            string        `json:"id"`
	Specialty     string        `json:"specialty"`
	Status        Status        `json:"status"`
	CurrentTaskID string        `json:"current_task_id,omitempty"`
	Completed     int           `json:"completed"`
	Faults        int           `json:"faults"`
	BusyTime      time.Duration `json:"busy_time"`
}

// Stats is the per-worker slice of a PoolStatus snapshot.
type Stats struct {
	WorkerID      string        `json:"worker_id"`
	Specialty     string        `json:"specialty"`
	Status        Status        `json:"status"`
	CurrentTaskID string        `json:"current_task_id,omitempty"`
	Completed     int           `json:"completed"`
	Faults        int           `json:"faults"`
	BusyTime      time.Duration `json:"busy_time"`
}

// PoolStatus is an operator-facing snapshot of the worker pool.
type PoolStatus struct {
	IdleCount  int     `json:"idle_count"`
	BusyCount  int     `json:"busy_count"`
	QueueDepth int     `json:"queue_depth"`
	Workers    []Stats `json:"workers"`
}
