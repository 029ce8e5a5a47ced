package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskfabric/taskfabric/internal/adapter/ws"
	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain/review"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/domain/worker"
	"github.com/taskfabric/taskfabric/internal/port/broadcast"
	"github.com/taskfabric/taskfabric/internal/port/executor"
)

// poolWorker pairs a worker with its own lock and, while busy, the cancel
// function for the running execution.
type poolWorker struct {
	mu        sync.Mutex
	w         worker.Worker
	cancel    context.CancelFunc
	cancelled bool // set when the running task was externally cancelled
}

// pendingTask is a backlog entry waiting for a free worker.
type pendingTask struct {
	t     *task.Task
	strat *strategy.ExecutionStrategy
	seq   uint64
}

// reviewSink receives completed or faulted execution outcomes.
type reviewSink interface {
	Submit(item *review.Item)
}

// PoolService is the bounded worker pool. It owns all workers and is the
// only mutator of their status; the backlog is a single shared structure
// guarded by one lock and touched only for enqueue/dequeue.
type PoolService struct {
	workers   []*poolWorker
	executors *executor.Registry
	registry  *RegistryService

	queueMu sync.Mutex
	backlog []*pendingTask
	nextSeq uint64

	reviews     reviewSink
	hub         broadcast.Broadcaster
	onCancelled func(taskID string)

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewPoolService creates a pool of cfg.Size workers. Specialties are
// assigned positionally from cfg.Specialties; workers beyond the list are
// tagged general.
func NewPoolService(cfg config.Pool, executors *executor.Registry, registry *RegistryService) *PoolService {
	p := &PoolService{
		executors: executors,
		registry:  registry,
		hub:       broadcast.Nop{},
		baseCtx:   context.Background(),
	}
	for i := 0; i < cfg.Size; i++ {
		specialty := worker.SpecialtyGeneral
		if i < len(cfg.Specialties) && cfg.Specialties[i] != "" {
			specialty = cfg.Specialties[i]
		}
		p.workers = append(p.workers, &poolWorker{
			w: worker.Worker{
				ID:        uuid.NewString(),
				Specialty: specialty,
				Status:    worker.StatusIdle,
			},
		})
	}
	return p
}

// SetReviewSink installs the sink that receives execution outcomes.
func (p *PoolService) SetReviewSink(sink reviewSink) {
	p.reviews = sink
}

// SetBroadcaster installs the real-time worker event broadcaster.
func (p *PoolService) SetBroadcaster(b broadcast.Broadcaster) {
	p.hub = b
}

// SetOnCancelled installs the callback invoked when a running task is
// externally cancelled.
func (p *PoolService) SetOnCancelled(fn func(taskID string)) {
	p.onCancelled = fn
}

// Start sets the base context under which worker executions run.
func (p *PoolService) Start(ctx context.Context) {
	p.baseCtx = ctx
}

// Stop waits for all in-flight executions to finish.
func (p *PoolService) Stop() {
	p.wg.Wait()
}

// Assign hands a task to an idle worker, or enqueues it when the pool is
// saturated. Returns the chosen worker's ID, or queued=true if the task
// went to the backlog.
func (p *PoolService) Assign(t *task.Task, strat *strategy.ExecutionStrategy) (workerID string, queued bool) {
	if pw := p.selectWorker(t.Specialty); pw != nil {
		p.dispatch(pw, t, strat)
		return pw.w.ID, false
	}

	p.queueMu.Lock()
	p.nextSeq++
	p.backlog = append(p.backlog, &pendingTask{t: t, strat: strat, seq: p.nextSeq})
	depth := len(p.backlog)
	p.queueMu.Unlock()

	slog.Debug("pool saturated, task queued", "task_id", t.ID, "queue_depth", depth)
	return "", true
}

// selectWorker picks an idle worker: specialty match first, then general,
// then any idle. Each worker's state is inspected under its own lock; the
// winner is flipped to busy before the lock is released so no two tasks
// can claim the same worker.
func (p *PoolService) selectWorker(specialty string) *poolWorker {
	if specialty != "" && specialty != worker.SpecialtyGeneral {
		if pw := p.claimIdle(func(w *worker.Worker) bool { return w.Specialty == specialty }); pw != nil {
			return pw
		}
	}
	if pw := p.claimIdle(func(w *worker.Worker) bool { return w.Specialty == worker.SpecialtyGeneral }); pw != nil {
		return pw
	}
	return p.claimIdle(func(*worker.Worker) bool { return true })
}

// claimIdle finds the first idle worker matching the predicate and marks
// it busy atomically.
func (p *PoolService) claimIdle(match func(*worker.Worker) bool) *poolWorker {
	for _, pw := range p.workers {
		pw.mu.Lock()
		if pw.w.Status == worker.StatusIdle && match(&pw.w) {
			pw.w.Status = worker.StatusBusy
			pw.mu.Unlock()
			return pw
		}
		pw.mu.Unlock()
	}
	return nil
}

// dispatch attaches the task to an already-claimed worker and starts the
// execution goroutine.
func (p *PoolService) dispatch(pw *poolWorker, t *task.Task, strat *strategy.ExecutionStrategy) {
	ctx, cancel := context.WithTimeout(p.baseCtx, strat.Timeout)

	pw.mu.Lock()
	pw.w.CurrentTaskID = t.ID
	pw.cancel = cancel
	pw.cancelled = false
	pw.mu.Unlock()

	_ = p.registry.Update(t.ID, func(t *task.Task) {
		t.Status = task.StatusExecuting
		t.UpdatedAt = time.Now()
	})
	p.broadcastWorker(pw.w.ID, worker.StatusBusy, t.ID)

	p.wg.Add(1)
	go p.run(ctx, cancel, pw, t, strat)
}

// run executes the task on its worker and emits the outcome to the review
// sink. The worker returns to idle afterwards regardless of outcome, then
// one backlog entry is drained if present.
func (p *PoolService) run(ctx context.Context, cancel context.CancelFunc, pw *poolWorker, t *task.Task, strat *strategy.ExecutionStrategy) {
	defer p.wg.Done()
	defer cancel()

	started := time.Now()
	var (
		res *task.Result
		err error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
				pw.mu.Lock()
				pw.w.Status = worker.StatusFaulted
				pw.mu.Unlock()
				slog.Error("worker faulted", "worker_id", pw.w.ID, "task_id", t.ID, "panic", r)
			}
		}()
		exec, execErr := p.executors.For(strat.Mode)
		if execErr != nil {
			err = execErr
			return
		}
		res, err = exec.Execute(ctx, t, strat.Timeout)
	}()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("execution timed out after %s", strat.Timeout)
	}

	elapsed := time.Since(started)

	pw.mu.Lock()
	wasCancelled := pw.cancelled
	pw.w.CurrentTaskID = ""
	pw.cancel = nil
	pw.w.BusyTime += elapsed
	if err != nil {
		pw.w.Faults++
	} else {
		pw.w.Completed++
	}
	if pw.w.Status == worker.StatusBusy {
		pw.w.Status = worker.StatusIdle
	}
	workerID := pw.w.ID
	released := pw.w.Status
	pw.mu.Unlock()

	p.broadcastWorker(workerID, released, "")

	switch {
	case wasCancelled:
		// Cancelled tasks do not enter review; the worker abandons the
		// action best-effort and the task fails with reason "cancelled".
		if p.onCancelled != nil {
			p.onCancelled(t.ID)
		}
	default:
		item := &review.Item{
			TaskID:    t.ID,
			WorkerID:  workerID,
			Mode:      strat.Mode,
			Risk:      strat.Risk,
			Result:    res,
			ArrivedAt: time.Now(),
		}
		if err != nil {
			item.Error = err.Error()
		}
		p.reviews.Submit(item)
	}

	p.drainOne()
}

// broadcastWorker emits a worker status event to connected clients.
func (p *PoolService) broadcastWorker(workerID string, st worker.Status, taskID string) {
	p.hub.BroadcastEvent(p.baseCtx, ws.EventWorkerStatus, ws.WorkerStatusEvent{
		WorkerID: workerID,
		Status:   string(st),
		TaskID:   taskID,
	})
}

// drainOne pops the highest-priority, oldest backlog entry and assigns it.
func (p *PoolService) drainOne() {
	p.queueMu.Lock()
	if len(p.backlog) == 0 {
		p.queueMu.Unlock()
		return
	}
	sort.SliceStable(p.backlog, func(i, j int) bool {
		if p.backlog[i].t.Priority != p.backlog[j].t.Priority {
			return p.backlog[i].t.Priority > p.backlog[j].t.Priority
		}
		return p.backlog[i].seq < p.backlog[j].seq
	})
	next := p.backlog[0]
	p.backlog = p.backlog[1:]
	p.queueMu.Unlock()

	if pw := p.selectWorker(next.t.Specialty); pw != nil {
		p.dispatch(pw, next.t, next.strat)
		return
	}

	// Lost the race for the freed worker. Re-queue under the original
	// sequence number so the entry keeps its place within its priority.
	p.queueMu.Lock()
	p.backlog = append(p.backlog, next)
	p.queueMu.Unlock()
	slog.Debug("backlog drain re-queued task", "task_id", next.t.ID)
}

// Cancel signals the worker running the given task to abandon it.
// Returns false if no worker is currently executing the task.
func (p *PoolService) Cancel(taskID string) bool {
	for _, pw := range p.workers {
		pw.mu.Lock()
		if pw.w.CurrentTaskID == taskID && pw.cancel != nil {
			pw.cancelled = true
			pw.cancel()
			pw.mu.Unlock()
			return true
		}
		pw.mu.Unlock()
	}
	return p.removeFromBacklog(taskID)
}

// removeFromBacklog drops a queued task before it ever reaches a worker.
func (p *PoolService) removeFromBacklog(taskID string) bool {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	for i, pt := range p.backlog {
		if pt.t.ID == taskID {
			p.backlog = append(p.backlog[:i], p.backlog[i+1:]...)
			if p.onCancelled != nil {
				go p.onCancelled(taskID)
			}
			return true
		}
	}
	return false
}

// Status returns an operator-facing snapshot of the pool.
func (p *PoolService) Status() worker.PoolStatus {
	st := worker.PoolStatus{}
	for _, pw := range p.workers {
		pw.mu.Lock()
		w := pw.w
		pw.mu.Unlock()

		switch w.Status {
		case worker.StatusIdle:
			st.IdleCount++
		case worker.StatusBusy:
			st.BusyCount++
		}
		st.Workers = append(st.Workers, worker.Stats{
			WorkerID:      w.ID,
			Specialty:     w.Specialty,
			Status:        w.Status,
			CurrentTaskID: w.CurrentTaskID,
			Completed:     w.Completed,
			Faults:        w.Faults,
			BusyTime:      w.BusyTime,
		})
	}

	p.queueMu.Lock()
	st.QueueDepth = len(p.backlog)
	p.queueMu.Unlock()

	return st
}
