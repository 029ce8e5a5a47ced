package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain/review"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/port/qualitygate"
)

// verdictSink receives the outcome of reviewing an item. The router
// implements it: approvals finalize the task, rejections and failures
// feed the retry-with-escalation path.
type verdictSink interface {
	CompleteFromReview(taskID string, res *task.Result)
	FailFromReview(taskID, reason string)
}

// ReviewQueueService batches completed worker output and applies quality
// gates. A single consumer goroutine drains the channel on a timer tick;
// each collected batch is processed under one critical section so the gate
// can consider items together.
type ReviewQueueService struct {
	cfg  config.Review
	gate qualitygate.Gate
	sink verdictSink

	ch chan *review.Item

	mu      sync.Mutex // held for the duration of one batch pass
	wg      sync.WaitGroup
	stopped chan struct{}

	onBatch func(size int) // test/metrics hook, may be nil
}

// NewReviewQueueService creates a review queue. A nil gate approves
// everything that reaches it.
func NewReviewQueueService(cfg config.Review, gate qualitygate.Gate, sink verdictSink) *ReviewQueueService {
	if gate == nil {
		gate = qualitygate.ApproveAll()
	}
	return &ReviewQueueService{
		cfg:     cfg,
		gate:    gate,
		sink:    sink,
		ch:      make(chan *review.Item, cfg.BufferSize),
		stopped: make(chan struct{}),
	}
}

// SetOnBatch installs a hook invoked after each processed batch.
func (s *ReviewQueueService) SetOnBatch(fn func(size int)) {
	s.onBatch = fn
}

// Submit enqueues a review item. Blocks if the buffer is full, which
// backpressures the pool rather than dropping verdicts.
func (s *ReviewQueueService) Submit(item *review.Item) {
	s.ch <- item
}

// Start launches the batching loop. It collects items for the batch
// window or until the size threshold is reached, then processes the batch.
func (s *ReviewQueueService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop drains remaining items and waits for the loop to exit.
func (s *ReviewQueueService) Stop() {
	close(s.stopped)
	s.wg.Wait()
}

func (s *ReviewQueueService) loop(ctx context.Context) {
	defer s.wg.Done()

	var batch []*review.Item
	timer := time.NewTimer(s.cfg.BatchWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) > 0 {
			s.process(ctx, batch)
			batch = nil
		}
		timer.Reset(s.cfg.BatchWindow)
	}

	for {
		select {
		case item := <-s.ch:
			batch = append(batch, item)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-timer.C:
			flush()
		case <-s.stopped:
			// Drain whatever is buffered, then flush once and exit.
			for {
				select {
				case item := <-s.ch:
					batch = append(batch, item)
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// process applies the per-item verdict logic to one batch under a single
// critical section.
func (s *ReviewQueueService) process(ctx context.Context, batch []*review.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range batch {
		s.verdict(ctx, item)
	}

	slog.Debug("review batch processed", "size", len(batch))
	if s.onBatch != nil {
		s.onBatch(len(batch))
	}
}

func (s *ReviewQueueService) verdict(ctx context.Context, item *review.Item) {
	switch {
	case item.Failed():
		// Worker-reported failure goes back to the router's escalation
		// path; the router decides between retry and terminal failure.
		s.sink.FailFromReview(item.TaskID, item.Error)

	case item.Risk == strategy.RiskLow:
		// Low-risk success auto-approves.
		s.sink.CompleteFromReview(item.TaskID, item.Result)

	default:
		// Medium/high risk success goes through the quality gate.
		v := s.gate.Check(ctx, item)
		if v.Kind == review.VerdictApproved {
			s.sink.CompleteFromReview(item.TaskID, item.Result)
			return
		}
		reason := v.Reason
		if reason == "" {
			reason = "quality gate rejected result"
		}
		slog.Info("quality gate rejected result",
			"task_id", item.TaskID,
			"worker_id", item.WorkerID,
			"reason", reason,
		)
		s.sink.FailFromReview(item.TaskID, reason)
	}
}
