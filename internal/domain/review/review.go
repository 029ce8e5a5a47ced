// Package review defines the review queue item and verdict types.
package review

import (
	"time"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
)

// Item is a completed (or failed) task result awaiting quality gating.
// Created by a worker on completion, destroyed when a verdict is emitted.
type Item struct {
	TaskID    string             `json:"task_id"`
	WorkerID  string             `json:"worker_id"`
	Mode      strategy.Mode      `json:"mode"`
	Risk      strategy.RiskLevel `json:"risk"`
	Result    *task.Result       `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	ArrivedAt time.Time          `json:"arrived_at"`
}

// Failed reports whether the worker reported a failure for this item.
func (i *Item) Failed() bool {
	return i.Error != ""
}

// VerdictKind is the outcome of reviewing a single item.
type VerdictKind string

const (
	VerdictApproved VerdictKind = "approved"
	VerdictRejected VerdictKind = "rejected"
)

// Verdict is the result of a quality-gate check over one item.
type Verdict struct {
	Kind   VerdictKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}
