// Package task defines the Task domain entity.
package task

import (
	"time"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRouting          Status = "routing"
	StatusExecuting        Status = "executing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders tasks in the pool backlog. Higher values dequeue first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Task represents a unit of work. The router owns it for its lifetime;
// the mode history is append-only and never decreases in rigor.
type Task struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Priority    Priority          `json:"priority"`
	Specialty   string            `json:"specialty,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Status      Status            `json:"status"`
	Attempts    []Attempt         `json:"attempts,omitempty"`
	ModeHistory []strategy.Mode   `json:"mode_history,omitempty"`
	Result      *Result           `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Attempt records one execution attempt: the mode it ran under and the
// error it produced, empty on success.
type Attempt struct {
	Mode       strategy.Mode `json:"mode"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Result holds the output of a completed task.
type Result struct {
	Output     string            `json:"output"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// CreateRequest holds the fields needed to submit a new task.
type CreateRequest struct {
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Priority    Priority          `json:"priority"`
	Specialty   string            `json:"specialty,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
}

// StatusView is the caller-facing snapshot returned by GetStatus.
type StatusView struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Mode        strategy.Mode   `json:"mode,omitempty"`
	ModeHistory []strategy.Mode `json:"mode_history,omitempty"`
	Attempts    int             `json:"attempts"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// CurrentMode returns the active mode, the last entry of the mode history.
func (t *Task) CurrentMode() strategy.Mode {
	if len(t.ModeHistory) == 0 {
		return ""
	}
	return t.ModeHistory[len(t.ModeHistory)-1]
}

// View builds the caller-facing snapshot of the task.
func (t *Task) View() StatusView {
	v := StatusView{
		ID:          t.ID,
		Status:      t.Status,
		Mode:        t.CurrentMode(),
		ModeHistory: append([]strategy.Mode(nil), t.ModeHistory...),
		Attempts:    len(t.Attempts),
		Error:       t.Error,
	}
	if t.Result != nil {
		r := *t.Result
		v.Result = &r
	}
	return v
}
