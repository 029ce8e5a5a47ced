package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStatus        = "task.status"
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventWorkerStatus      = "worker.status"
)

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Mode     string `json:"mode,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// ApprovalRequestedEvent is broadcast when a task suspends for human approval.
type ApprovalRequestedEvent struct {
	TaskID    string `json:"task_id"`
	Rationale string `json:"rationale"`
	ExpiresAt string `json:"expires_at"`
}

// ApprovalResolvedEvent is broadcast when an approval request is decided.
type ApprovalResolvedEvent struct {
	TaskID   string `json:"task_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// WorkerStatusEvent is broadcast when a worker picks up or releases a task.
type WorkerStatusEvent struct {
	WorkerID string `json:"worker_id"`
	Status   string `json:"status"`
	TaskID   string `json:"task_id,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
