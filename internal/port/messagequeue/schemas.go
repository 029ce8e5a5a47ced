package messagequeue

// TaskSubmittedPayload is the schema for tasks.submitted messages.
type TaskSubmittedPayload struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// TaskStatusPayload is the schema for tasks.status messages.
type TaskStatusPayload struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Mode     string `json:"mode,omitempty"`
	Attempts int    `json:"attempts"`
}

// TaskResultPayload is the schema for tasks.result messages.
type TaskResultPayload struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Mode     string `json:"mode,omitempty"`
	Attempts int    `json:"attempts"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ApprovalRequestedPayload is the schema for approvals.requested messages.
type ApprovalRequestedPayload struct {
	TaskID    string `json:"task_id"`
	Rationale string `json:"rationale"`
	ExpiresAt string `json:"expires_at"`
}

// ApprovalResolvedPayload is the schema for approvals.resolved messages.
type ApprovalResolvedPayload struct {
	TaskID   string `json:"task_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
