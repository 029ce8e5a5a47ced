// Package approval defines the human-approval request entity.
package approval

import (
	"time"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
)

// Request represents a suspended task awaiting an external human decision.
// Exactly one outstanding request exists per task; it is resolved by
// approve/reject or expires at the deadline.
type Request struct {
	TaskID      string                     `json:"task_id"`
	Strategy    strategy.ExecutionStrategy `json:"strategy"`
	RequestedAt time.Time                  `json:"requested_at"`
	ExpiresAt   time.Time                  `json:"expires_at"`
}

// Expired reports whether the request deadline has passed at the given time.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
