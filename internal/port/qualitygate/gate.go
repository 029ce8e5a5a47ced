// Package qualitygate defines the pluggable quality gate consumed by the review queue.
package qualitygate

import (
	"context"

	"github.com/taskfabric/taskfabric/internal/domain/review"
)

// Gate checks a worker result before it is finalized as completed.
// A rejection is treated identically to an execution failure and feeds
// the retry ladder.
type Gate interface {
	Check(ctx context.Context, item *review.Item) review.Verdict
}

// Func adapts a plain function to the Gate interface.
type Func func(ctx context.Context, item *review.Item) review.Verdict

// Check calls f.
func (f Func) Check(ctx context.Context, item *review.Item) review.Verdict {
	return f(ctx, item)
}

// ApproveAll is a Gate that approves every item. Used as the default when
// no gate is configured.
func ApproveAll() Gate {
	return Func(func(_ context.Context, _ *review.Item) review.Verdict {
		return review.Verdict{Kind: review.VerdictApproved}
	})
}
