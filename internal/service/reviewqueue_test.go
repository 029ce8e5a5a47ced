package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain/review"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/port/qualitygate"
	"github.com/taskfabric/taskfabric/internal/service"
)

// verdictRecorder captures completion and failure verdicts.
type verdictRecorder struct {
	mu        sync.Mutex
	completed map[string]*task.Result
	failed    map[string]string
}

func newVerdictRecorder() *verdictRecorder {
	return &verdictRecorder{
		completed: make(map[string]*task.Result),
		failed:    make(map[string]string),
	}
}

func (r *verdictRecorder) CompleteFromReview(taskID string, res *task.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[taskID] = res
}

func (r *verdictRecorder) FailFromReview(taskID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[taskID] = reason
}

func (r *verdictRecorder) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

func (r *verdictRecorder) failedReason(taskID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.failed[taskID]
	return reason, ok
}

func reviewConfig() config.Review {
	return config.Review{
		BatchWindow: 10 * time.Millisecond,
		BatchSize:   16,
		BufferSize:  64,
	}
}

func TestReviewQueueLowRiskAutoApproves(t *testing.T) {
	rec := newVerdictRecorder()
	gateCalls := 0
	gate := qualitygate.Func(func(context.Context, *review.Item) review.Verdict {
		gateCalls++
		return review.Verdict{Kind: review.VerdictRejected}
	})

	q := service.NewReviewQueueService(reviewConfig(), gate, rec)
	q.Start(context.Background())
	defer q.Stop()

	q.Submit(&review.Item{TaskID: "t1", Risk: strategy.RiskLow, Result: &task.Result{Output: "ok"}})

	waitUntil(t, time.Second, func() bool { return rec.completedCount() == 1 }, "low risk auto-approved")
	if gateCalls != 0 {
		t.Fatalf("gate called %d times, low-risk success must bypass it", gateCalls)
	}
}

func TestReviewQueueGateVerdicts(t *testing.T) {
	rec := newVerdictRecorder()
	gate := qualitygate.Func(func(_ context.Context, item *review.Item) review.Verdict {
		if item.TaskID == "bad" {
			return review.Verdict{Kind: review.VerdictRejected, Reason: "output incomplete"}
		}
		return review.Verdict{Kind: review.VerdictApproved}
	})

	q := service.NewReviewQueueService(reviewConfig(), gate, rec)
	q.Start(context.Background())
	defer q.Stop()

	q.Submit(&review.Item{TaskID: "good", Risk: strategy.RiskMedium, Result: &task.Result{Output: "fine"}})
	q.Submit(&review.Item{TaskID: "bad", Risk: strategy.RiskHigh, Result: &task.Result{Output: "meh"}})

	waitUntil(t, time.Second, func() bool {
		_, failed := rec.failedReason("bad")
		return rec.completedCount() == 1 && failed
	}, "gate verdicts applied")

	if reason, _ := rec.failedReason("bad"); reason != "output incomplete" {
		t.Fatalf("reason = %q, want gate reason", reason)
	}
}

func TestReviewQueueFailureSkipsGate(t *testing.T) {
	rec := newVerdictRecorder()
	gateCalls := 0
	gate := qualitygate.Func(func(context.Context, *review.Item) review.Verdict {
		gateCalls++
		return review.Verdict{Kind: review.VerdictApproved}
	})

	q := service.NewReviewQueueService(reviewConfig(), gate, rec)
	q.Start(context.Background())
	defer q.Stop()

	q.Submit(&review.Item{TaskID: "t1", Risk: strategy.RiskHigh, Error: "exit status 1"})

	waitUntil(t, time.Second, func() bool {
		_, ok := rec.failedReason("t1")
		return ok
	}, "failure forwarded")

	if reason, _ := rec.failedReason("t1"); reason != "exit status 1" {
		t.Fatalf("reason = %q, want executor error", reason)
	}
	if gateCalls != 0 {
		t.Fatal("failed items must not reach the gate")
	}
}

func TestReviewQueueBatchesWithinWindow(t *testing.T) {
	rec := newVerdictRecorder()
	q := service.NewReviewQueueService(reviewConfig(), nil, rec)

	var mu sync.Mutex
	var batches []int
	q.SetOnBatch(func(size int) {
		mu.Lock()
		batches = append(batches, size)
		mu.Unlock()
	})

	q.Start(context.Background())
	defer q.Stop()

	// Submitted back to back, these should land in one window batch, not
	// five individual passes.
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		q.Submit(&review.Item{TaskID: id, Risk: strategy.RiskLow, Result: &task.Result{}})
	}

	waitUntil(t, time.Second, func() bool { return rec.completedCount() == 5 }, "all items reviewed")

	mu.Lock()
	defer mu.Unlock()
	if len(batches) >= 5 {
		t.Fatalf("processed %d batches for 5 items, expected batching", len(batches))
	}
}

func TestReviewQueueFlushesAtBatchSize(t *testing.T) {
	cfg := reviewConfig()
	cfg.BatchWindow = time.Hour // never fires in this test
	cfg.BatchSize = 3

	rec := newVerdictRecorder()
	q := service.NewReviewQueueService(cfg, nil, rec)
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		q.Submit(&review.Item{TaskID: id, Risk: strategy.RiskLow, Result: &task.Result{}})
	}

	waitUntil(t, time.Second, func() bool { return rec.completedCount() == 3 }, "size threshold flush")
}

func TestReviewQueueStopDrainsBuffered(t *testing.T) {
	cfg := reviewConfig()
	cfg.BatchWindow = time.Hour

	rec := newVerdictRecorder()
	q := service.NewReviewQueueService(cfg, nil, rec)
	q.Start(context.Background())

	q.Submit(&review.Item{TaskID: "t1", Risk: strategy.RiskLow, Result: &task.Result{}})
	q.Stop()

	if rec.completedCount() != 1 {
		t.Fatal("Stop must flush buffered items")
	}
}
