package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	oteladapter "github.com/taskfabric/taskfabric/internal/adapter/otel"
	"github.com/taskfabric/taskfabric/internal/adapter/ws"
	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain"
	"github.com/taskfabric/taskfabric/internal/domain/approval"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/logger"
	"github.com/taskfabric/taskfabric/internal/port/archive"
	"github.com/taskfabric/taskfabric/internal/port/broadcast"
	"github.com/taskfabric/taskfabric/internal/port/cache"
	"github.com/taskfabric/taskfabric/internal/port/executor"
	"github.com/taskfabric/taskfabric/internal/port/messagequeue"
)

const cacheKeyPrefix = "task:"

// approvalDecision is delivered to a suspended task's waiter channel.
type approvalDecision struct {
	approved bool
	reason   string
}

// RouterService is the orchestrator: it owns every task for its lifetime,
// decides its strategy, dispatches execution, manages retry with
// escalation, and gates high-risk tasks behind human approval.
type RouterService struct {
	cfg       config.Router
	decider   *DeciderService
	registry  *RegistryService
	pool      *PoolService
	executors *executor.Registry

	queue   messagequeue.Queue    // optional lifecycle event publishing
	hub     broadcast.Broadcaster // real-time status events
	arch    archive.Archiver      // optional terminal task archive
	cache   cache.Cache           // optional terminal snapshot cache
	metrics *oteladapter.Metrics  // optional

	cacheTTL time.Duration

	// Channel-per-task approval gate: the approval API writes into the
	// suspended task's own channel instead of a process-wide bus.
	approvals *waiterTable[approvalDecision]
	pendingMu sync.Mutex
	pending   map[string]*approval.Request

	// Active strategy per live task, replaced on each escalation.
	stratMu    sync.Mutex
	strategies map[string]*strategy.ExecutionStrategy

	// Direct executions in flight, cancellable by task ID.
	directMu     sync.Mutex
	directCancel map[string]context.CancelFunc
	directDead   map[string]bool // explicitly cancelled direct tasks

	// Dependency tracking: parked tasks wait here until every dependency
	// reaches a terminal status.
	depMu      sync.Mutex
	waiting    map[string]map[string]struct{} // task ID -> unsatisfied dependency IDs
	dependents map[string][]string            // dependency ID -> dependent task IDs
	parked     map[string]*task.Task

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewRouterService creates a RouterService. Queue, archiver, cache, and
// metrics may be nil; the hub defaults to a no-op broadcaster.
func NewRouterService(
	cfg config.Router,
	decider *DeciderService,
	registry *RegistryService,
	pool *PoolService,
	executors *executor.Registry,
) *RouterService {
	r := &RouterService{
		cfg:          cfg,
		decider:      decider,
		registry:     registry,
		pool:         pool,
		executors:    executors,
		hub:          broadcast.Nop{},
		approvals:    newWaiterTable[approvalDecision]("approval"),
		pending:      make(map[string]*approval.Request),
		strategies:   make(map[string]*strategy.ExecutionStrategy),
		directCancel: make(map[string]context.CancelFunc),
		directDead:   make(map[string]bool),
		waiting:      make(map[string]map[string]struct{}),
		dependents:   make(map[string][]string),
		parked:       make(map[string]*task.Task),
		baseCtx:      context.Background(),
	}
	pool.SetOnCancelled(r.failCancelled)
	return r
}

// SetQueue installs the lifecycle event queue.
func (r *RouterService) SetQueue(q messagequeue.Queue) { r.queue = q }

// SetBroadcaster installs the real-time event broadcaster.
func (r *RouterService) SetBroadcaster(b broadcast.Broadcaster) { r.hub = b }

// SetArchiver installs the terminal task archive.
func (r *RouterService) SetArchiver(a archive.Archiver) { r.arch = a }

// SetCache installs the terminal snapshot cache.
func (r *RouterService) SetCache(c cache.Cache, ttl time.Duration) {
	r.cache = c
	r.cacheTTL = ttl
}

// SetMetrics installs the metric instruments.
func (r *RouterService) SetMetrics(m *oteladapter.Metrics) { r.metrics = m }

// Start sets the base context for asynchronous routing work.
func (r *RouterService) Start(ctx context.Context) {
	r.baseCtx = ctx
}

// Stop waits for in-flight routing goroutines to finish.
func (r *RouterService) Stop() {
	r.wg.Wait()
}

// ---------------------------------------------------------------------------
// Intake
// ---------------------------------------------------------------------------

// Submit accepts a new task from an upstream producer and returns its ID.
// Routing proceeds asynchronously; callers observe progress via GetStatus.
func (r *RouterService) Submit(ctx context.Context, req task.CreateRequest) (string, error) {
	if strings.TrimSpace(req.Description) == "" {
		return "", fmt.Errorf("description is required: %w", domain.ErrInvalidInput)
	}
	if req.Priority < task.PriorityLow || req.Priority > task.PriorityHigh {
		return "", fmt.Errorf("priority %d out of range: %w", req.Priority, domain.ErrInvalidInput)
	}

	now := time.Now()
	t := &task.Task{
		ID:          uuid.NewString(),
		Description: req.Description,
		Context:     req.Context,
		Priority:    req.Priority,
		Specialty:   req.Specialty,
		DependsOn:   req.DependsOn,
		Status:      task.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Unknown dependencies are a caller error, surfaced synchronously.
	unsatisfied, err := r.checkDependencies(t)
	if err != nil {
		return "", err
	}

	if err := r.registry.Add(t); err != nil {
		return "", err
	}

	if r.metrics != nil {
		r.metrics.TasksSubmitted.Add(ctx, 1)
	}
	r.publish(logger.WithTaskID(ctx, t.ID), messagequeue.SubjectTaskSubmitted, messagequeue.TaskSubmittedPayload{
		TaskID:      t.ID,
		Description: t.Description,
		Priority:    int(t.Priority),
	})

	slog.Info("task submitted",
		"task_id", t.ID,
		"priority", t.Priority,
		"dependencies", len(t.DependsOn),
	)

	if len(unsatisfied) > 0 {
		r.park(t, unsatisfied)
		// A dependency may have gone terminal between the intake status
		// read and registration, after its dependent scan already ran.
		// Re-check now that the registration is visible so the task
		// cannot be stranded in pending.
		r.recheckDependencies(t.ID)
		return t.ID, nil
	}

	r.spawnRoute(t)
	return t.ID, nil
}

// checkDependencies resolves the task's dependency list against the
// registry. Completed dependencies are dropped; a failed dependency fails
// the submission; unknown IDs are an input error.
func (r *RouterService) checkDependencies(t *task.Task) (map[string]struct{}, error) {
	unsatisfied := make(map[string]struct{})
	for _, dep := range t.DependsOn {
		st, err := r.registry.Status(dep)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dep, domain.ErrInvalidInput)
		}
		switch st {
		case task.StatusCompleted:
			// satisfied
		case task.StatusFailed:
			return nil, fmt.Errorf("dependency %s already failed: %w", dep, domain.ErrInvalidState)
		default:
			unsatisfied[dep] = struct{}{}
		}
	}
	return unsatisfied, nil
}

// park registers a task to wait for its unsatisfied dependencies.
func (r *RouterService) park(t *task.Task, deps map[string]struct{}) {
	r.depMu.Lock()
	defer r.depMu.Unlock()

	r.waiting[t.ID] = deps
	r.parked[t.ID] = t
	for dep := range deps {
		r.dependents[dep] = append(r.dependents[dep], t.ID)
	}
	slog.Debug("task parked on dependencies", "task_id", t.ID, "pending_deps", len(deps))
}

// recheckDependencies re-reads the registry status of every dependency a
// parked task is still waiting on and applies the same rules as dependent
// notification: a failed dependency fails the task, any other terminal
// status satisfies the edge. No-op when the task is no longer parked.
func (r *RouterService) recheckDependencies(taskID string) {
	r.depMu.Lock()
	waiting, ok := r.waiting[taskID]
	if !ok {
		r.depMu.Unlock()
		return
	}

	var failedDep string
	for dep := range waiting {
		st, err := r.registry.Status(dep)
		if err != nil || !st.IsTerminal() {
			continue
		}
		if st == task.StatusFailed {
			failedDep = dep
			break
		}
		delete(waiting, dep)
	}

	var release *task.Task
	switch {
	case failedDep != "":
		delete(r.waiting, taskID)
		delete(r.parked, taskID)
	case len(waiting) == 0:
		release = r.parked[taskID]
		delete(r.waiting, taskID)
		delete(r.parked, taskID)
	}
	r.depMu.Unlock()

	if failedDep != "" {
		r.failTask(taskID, fmt.Sprintf("dependency %s failed", failedDep))
		return
	}
	if release != nil {
		r.spawnRoute(release)
	}
}

func (r *RouterService) spawnRoute(t *task.Task) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.route(t)
	}()
}

// ---------------------------------------------------------------------------
// Routing and dispatch
// ---------------------------------------------------------------------------

// route decides a strategy for the task and dispatches it.
func (r *RouterService) route(t *task.Task) {
	r.setStatus(t.ID, task.StatusRouting)

	strat := r.decider.Decide(r.baseCtx, t)
	slog.Info("strategy decided",
		"task_id", t.ID,
		"mode", strat.Mode,
		"risk", strat.Risk,
		"rationale", strat.Rationale,
	)

	r.dispatch(t, strat)
}

// dispatch sends the task down the path its strategy demands. The mode is
// appended to the history unless it matches the current entry (a full-loop
// retry in place repeats the mode without duplicating history).
func (r *RouterService) dispatch(t *task.Task, strat *strategy.ExecutionStrategy) {
	r.stratMu.Lock()
	r.strategies[t.ID] = strat
	r.stratMu.Unlock()

	_ = r.registry.Update(t.ID, func(t *task.Task) {
		if t.CurrentMode() != strat.Mode {
			t.ModeHistory = append(t.ModeHistory, strat.Mode)
		}
		t.UpdatedAt = time.Now()
	})
	r.publishStatus(t.ID)

	switch strat.Mode {
	case strategy.ModeHumanApproval:
		r.awaitApproval(t, strat)
	case strategy.ModeDirect:
		r.runDirect(t, strat)
	default:
		if _, queued := r.pool.Assign(t, strat); queued {
			// Backpressure: the task sits in the pool backlog until a
			// worker frees up. A fast drain may already have claimed it.
			_ = r.registry.Update(t.ID, func(t *task.Task) {
				if t.Status == task.StatusRouting {
					t.Status = task.StatusPending
					t.UpdatedAt = time.Now()
				}
			})
			r.publishStatus(t.ID)
		}
	}
}

// runDirect executes the task synchronously in-process under a strict
// timeout. Direct results bypass review: they are pre-approved as low risk.
func (r *RouterService) runDirect(t *task.Task, strat *strategy.ExecutionStrategy) {
	r.setStatus(t.ID, task.StatusExecuting)

	ctx, cancel := context.WithTimeout(logger.WithTaskID(r.baseCtx, t.ID), strat.Timeout)
	r.directMu.Lock()
	r.directCancel[t.ID] = cancel
	r.directMu.Unlock()

	defer func() {
		cancel()
		r.directMu.Lock()
		delete(r.directCancel, t.ID)
		r.directMu.Unlock()
	}()

	var (
		res *task.Result
		err error
	)
	exec, err := r.executors.For(strategy.ModeDirect)
	if err == nil {
		res, err = exec.Execute(ctx, t, strat.Timeout)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("execution timed out after %s", strat.Timeout)
	}

	r.directMu.Lock()
	wasCancelled := r.directDead[t.ID]
	delete(r.directDead, t.ID)
	r.directMu.Unlock()

	switch {
	case wasCancelled:
		r.failCancelled(t.ID)
	case err != nil:
		r.FailFromReview(t.ID, err.Error())
	default:
		r.CompleteFromReview(t.ID, res)
	}
}

// ---------------------------------------------------------------------------
// Review outcomes and the retry ladder
// ---------------------------------------------------------------------------

// CompleteFromReview finalizes a task whose result passed review (or, for
// direct mode, needed none).
func (r *RouterService) CompleteFromReview(taskID string, res *task.Result) {
	now := time.Now()
	_ = r.registry.Update(taskID, func(t *task.Task) {
		t.Attempts = append(t.Attempts, task.Attempt{
			Mode:       t.CurrentMode(),
			StartedAt:  now,
			FinishedAt: now,
		})
		t.Status = task.StatusCompleted
		t.Result = res
		t.UpdatedAt = now
	})
	r.afterTerminal(taskID)
}

// FailFromReview records a failed attempt and either escalates one rung up
// the ladder or fails the task once attempts are exhausted. Quality-gate
// rejections arrive here identically to execution failures.
func (r *RouterService) FailFromReview(taskID, reason string) {
	now := time.Now()
	var (
		attempts int
		history  []task.Attempt
	)
	_ = r.registry.Update(taskID, func(t *task.Task) {
		t.Attempts = append(t.Attempts, task.Attempt{
			Mode:       t.CurrentMode(),
			Error:      reason,
			StartedAt:  now,
			FinishedAt: now,
		})
		t.UpdatedAt = now
		attempts = len(t.Attempts)
		history = t.Attempts
	})

	if attempts >= r.cfg.MaxRetries {
		r.failTask(taskID, aggregateErrors(history))
		return
	}

	r.stratMu.Lock()
	prev := r.strategies[taskID]
	r.stratMu.Unlock()
	if prev == nil {
		r.failTask(taskID, reason)
		return
	}

	next := r.decider.Escalated(prev, attempts)
	if r.metrics != nil {
		r.metrics.Escalations.Add(r.baseCtx, 1)
	}
	slog.Info("task escalated for retry",
		"task_id", taskID,
		"from_mode", prev.Mode,
		"to_mode", next.Mode,
		"attempt", attempts,
		"error", reason,
	)

	t, err := r.registry.Snapshot(taskID)
	if err != nil {
		slog.Error("escalation snapshot failed", "task_id", taskID, "error", err)
		return
	}
	r.setStatus(taskID, task.StatusRouting)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.dispatch(t, next)
	}()
}

// aggregateErrors builds the full attempt history string surfaced on a
// terminal failure.
func aggregateErrors(attempts []task.Attempt) string {
	parts := make([]string, 0, len(attempts))
	for i, a := range attempts {
		if a.Error == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("attempt %d (%s): %s", i+1, a.Mode, a.Error))
	}
	return strings.Join(parts, "; ")
}

// failTask marks the task failed with the given reason.
func (r *RouterService) failTask(taskID, reason string) {
	_ = r.registry.Update(taskID, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.Error = reason
		t.UpdatedAt = time.Now()
	})
	r.afterTerminal(taskID)
}

// failCancelled is the terminal path for externally cancelled tasks.
// Cancellation never retries.
func (r *RouterService) failCancelled(taskID string) {
	r.failTask(taskID, "cancelled")
}

// ---------------------------------------------------------------------------
// Human approval gate
// ---------------------------------------------------------------------------

// awaitApproval suspends the task until an external approve/reject signal
// arrives on its own channel, or the request expires.
func (r *RouterService) awaitApproval(t *task.Task, strat *strategy.ExecutionStrategy) {
	now := time.Now()
	req := &approval.Request{
		TaskID:      t.ID,
		Strategy:    *strat,
		RequestedAt: now,
		ExpiresAt:   now.Add(r.cfg.ApprovalTTL),
	}

	r.pendingMu.Lock()
	r.pending[t.ID] = req
	r.pendingMu.Unlock()

	ch := r.approvals.await(t.ID)
	r.setStatus(t.ID, task.StatusAwaitingApproval)

	if r.metrics != nil {
		r.metrics.ApprovalsRequested.Add(r.baseCtx, 1)
	}
	r.publish(logger.WithTaskID(r.baseCtx, t.ID), messagequeue.SubjectApprovalRequested, messagequeue.ApprovalRequestedPayload{
		TaskID:    t.ID,
		Rationale: strat.Rationale,
		ExpiresAt: req.ExpiresAt.Format(time.RFC3339),
	})
	r.hub.BroadcastEvent(r.baseCtx, ws.EventApprovalRequested, ws.ApprovalRequestedEvent{
		TaskID:    t.ID,
		Rationale: strat.Rationale,
		ExpiresAt: req.ExpiresAt.Format(time.RFC3339),
	})

	slog.Info("approval requested",
		"task_id", t.ID,
		"rationale", strat.Rationale,
		"expires_at", req.ExpiresAt,
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.pendingMu.Lock()
			delete(r.pending, t.ID)
			r.pendingMu.Unlock()
			r.approvals.forget(t.ID)
		}()

		timer := time.NewTimer(r.cfg.ApprovalTTL)
		defer timer.Stop()

		select {
		case decision := <-ch:
			r.resolveApproval(t, strat, decision)
		case <-timer.C:
			if r.metrics != nil {
				r.metrics.ApprovalsResolved.Add(r.baseCtx, 1)
			}
			slog.Warn("approval timed out", "task_id", t.ID)
			r.publishApprovalResolved(t.ID, false, "approval timed out")
			r.failTask(t.ID, "approval timed out")
		case <-r.baseCtx.Done():
		}
	}()
}

func (r *RouterService) resolveApproval(t *task.Task, strat *strategy.ExecutionStrategy, decision *approvalDecision) {
	if r.metrics != nil {
		r.metrics.ApprovalsResolved.Add(r.baseCtx, 1)
	}

	if !decision.approved {
		reason := decision.reason
		if reason == "" {
			reason = "rejected"
		}
		slog.Info("approval rejected", "task_id", t.ID, "reason", reason)
		r.publishApprovalResolved(t.ID, false, reason)
		r.failTask(t.ID, reason)
		return
	}

	slog.Info("approval granted, executing as full loop", "task_id", t.ID)
	r.publishApprovalResolved(t.ID, true, "")
	r.dispatch(t, r.decider.Approved(strat))
}

func (r *RouterService) publishApprovalResolved(taskID string, approved bool, reason string) {
	r.publish(logger.WithTaskID(r.baseCtx, taskID), messagequeue.SubjectApprovalResolved, messagequeue.ApprovalResolvedPayload{
		TaskID:   taskID,
		Approved: approved,
		Reason:   reason,
	})
	r.hub.BroadcastEvent(r.baseCtx, ws.EventApprovalResolved, ws.ApprovalResolvedEvent{
		TaskID:   taskID,
		Approved: approved,
		Reason:   reason,
	})
}

// ListPendingApprovals returns all outstanding approval requests, oldest first.
func (r *RouterService) ListPendingApprovals() []approval.Request {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	out := make([]approval.Request, 0, len(r.pending))
	for _, req := range r.pending {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Resolve delivers a human decision for a task awaiting approval.
func (r *RouterService) Resolve(_ context.Context, taskID string, approved bool) error {
	st, err := r.registry.Status(taskID)
	if err != nil {
		return err
	}
	if st != task.StatusAwaitingApproval {
		return fmt.Errorf("task %s is %s, not awaiting approval: %w", taskID, st, domain.ErrInvalidState)
	}

	reason := ""
	if !approved {
		reason = "rejected"
	}
	if !r.approvals.resolve(taskID, &approvalDecision{approved: approved, reason: reason}) {
		return fmt.Errorf("task %s has no outstanding approval: %w", taskID, domain.ErrInvalidState)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

// Cancel aborts a task. Awaiting approval resolves as rejected; executing
// work is abandoned best-effort; queued or parked tasks fail immediately.
func (r *RouterService) Cancel(_ context.Context, taskID string) error {
	st, err := r.registry.Status(taskID)
	if err != nil {
		return err
	}

	switch st {
	case task.StatusAwaitingApproval:
		if !r.approvals.resolve(taskID, &approvalDecision{approved: false, reason: "rejected"}) {
			return fmt.Errorf("task %s has no outstanding approval: %w", taskID, domain.ErrInvalidState)
		}
		return nil

	case task.StatusExecuting:
		r.directMu.Lock()
		if cancel, ok := r.directCancel[taskID]; ok {
			r.directDead[taskID] = true
			cancel()
			r.directMu.Unlock()
			return nil
		}
		r.directMu.Unlock()
		if !r.pool.Cancel(taskID) {
			return fmt.Errorf("task %s is not executing: %w", taskID, domain.ErrInvalidState)
		}
		return nil

	case task.StatusPending, task.StatusRouting:
		if r.pool.Cancel(taskID) {
			return nil
		}
		if r.unpark(taskID) {
			r.failCancelled(taskID)
			return nil
		}
		// Between states; the routing goroutine still owns it.
		return fmt.Errorf("task %s cannot be cancelled right now: %w", taskID, domain.ErrInvalidState)

	default:
		return fmt.Errorf("task %s is already %s: %w", taskID, st, domain.ErrInvalidState)
	}
}

// unpark removes a dependency-parked task. Returns false if the task was
// not parked.
func (r *RouterService) unpark(taskID string) bool {
	r.depMu.Lock()
	defer r.depMu.Unlock()

	if _, ok := r.parked[taskID]; !ok {
		return false
	}
	delete(r.parked, taskID)
	delete(r.waiting, taskID)
	return true
}

// ---------------------------------------------------------------------------
// Status surface
// ---------------------------------------------------------------------------

// GetStatus returns the caller-facing view of a task, consulting the
// snapshot cache and, for long-archived tasks, the durable archive.
func (r *RouterService) GetStatus(ctx context.Context, taskID string) (task.StatusView, error) {
	if r.cache != nil {
		if data, ok, _ := r.cache.Get(ctx, cacheKeyPrefix+taskID); ok {
			var v task.StatusView
			if err := json.Unmarshal(data, &v); err == nil {
				return v, nil
			}
		}
	}

	v, err := r.registry.View(taskID)
	if err == nil {
		if v.Status.IsTerminal() {
			r.cacheView(ctx, v)
		}
		return v, nil
	}

	if errors.Is(err, domain.ErrNotFound) && r.arch != nil {
		t, archErr := r.arch.Get(ctx, taskID)
		if archErr == nil {
			v := t.View()
			r.cacheView(ctx, v)
			return v, nil
		}
	}
	return task.StatusView{}, err
}

func (r *RouterService) cacheView(ctx context.Context, v task.StatusView) {
	if r.cache == nil {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = r.cache.Set(ctx, cacheKeyPrefix+v.ID, data, r.cacheTTL)
	}
}

// ExecuteBatch submits all requests and blocks until every task reaches a
// terminal status, signalled by the registry's per-task done channels.
func (r *RouterService) ExecuteBatch(ctx context.Context, reqs []task.CreateRequest) ([]task.StatusView, error) {
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		id, err := r.Submit(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("batch submit %d: %w", i, err)
		}
		ids[i] = id
	}

	g, waitCtx := errgroup.WithContext(ctx)
	for _, id := range ids {
		done, err := r.registry.Done(id)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			select {
			case <-done:
				return nil
			case <-waitCtx.Done():
				return waitCtx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch wait: %w", err)
	}

	views := make([]task.StatusView, len(ids))
	for i, id := range ids {
		v, err := r.registry.View(id)
		if err != nil {
			return nil, err
		}
		views[i] = v
	}
	return views, nil
}

// ---------------------------------------------------------------------------
// Terminal bookkeeping
// ---------------------------------------------------------------------------

// afterTerminal runs once per task after it reaches a terminal status:
// metrics, events, cache, archive, and dependent notification.
func (r *RouterService) afterTerminal(taskID string) {
	snap, err := r.registry.Snapshot(taskID)
	if err != nil {
		slog.Error("terminal snapshot failed", "task_id", taskID, "error", err)
		return
	}

	r.stratMu.Lock()
	delete(r.strategies, taskID)
	r.stratMu.Unlock()

	if r.metrics != nil {
		if snap.Status == task.StatusCompleted {
			r.metrics.TasksCompleted.Add(r.baseCtx, 1)
		} else {
			r.metrics.TasksFailed.Add(r.baseCtx, 1)
		}
		r.metrics.TaskDuration.Record(r.baseCtx, time.Since(snap.CreatedAt).Seconds())
	}

	v := snap.View()
	payload := messagequeue.TaskResultPayload{
		TaskID:   v.ID,
		Status:   string(v.Status),
		Mode:     string(v.Mode),
		Attempts: v.Attempts,
		Error:    v.Error,
	}
	if v.Result != nil {
		payload.Output = v.Result.Output
	}
	r.publish(logger.WithTaskID(r.baseCtx, taskID), messagequeue.SubjectTaskResult, payload)
	r.broadcastStatus(v)

	r.cacheView(r.baseCtx, v)

	if r.arch != nil {
		if err := r.arch.Archive(r.baseCtx, snap); err != nil {
			slog.Error("task archive failed", "task_id", taskID, "error", err)
		}
	}

	slog.Info("task terminal",
		"task_id", taskID,
		"status", snap.Status,
		"attempts", len(snap.Attempts),
	)

	r.notifyDependents(snap)
}

// notifyDependents releases tasks whose dependency set is now satisfied.
// A failed dependency fails its dependents.
func (r *RouterService) notifyDependents(dep *task.Task) {
	r.depMu.Lock()
	ids := r.dependents[dep.ID]
	delete(r.dependents, dep.ID)

	var release []*task.Task
	var doomed []string
	for _, id := range ids {
		waiting, ok := r.waiting[id]
		if !ok {
			continue
		}
		if dep.Status == task.StatusFailed {
			delete(r.waiting, id)
			delete(r.parked, id)
			doomed = append(doomed, id)
			continue
		}
		delete(waiting, dep.ID)
		if len(waiting) == 0 {
			release = append(release, r.parked[id])
			delete(r.waiting, id)
			delete(r.parked, id)
		}
	}
	r.depMu.Unlock()

	for _, id := range doomed {
		r.failTask(id, fmt.Sprintf("dependency %s failed", dep.ID))
	}
	for _, t := range release {
		if t != nil {
			slog.Debug("dependencies satisfied, routing task", "task_id", t.ID)
			r.spawnRoute(t)
		}
	}
}

// ---------------------------------------------------------------------------
// Event helpers
// ---------------------------------------------------------------------------

// setStatus updates the task status and emits status events.
func (r *RouterService) setStatus(taskID string, st task.Status) {
	_ = r.registry.Update(taskID, func(t *task.Task) {
		t.Status = st
		t.UpdatedAt = time.Now()
	})
	r.publishStatus(taskID)
}

func (r *RouterService) publishStatus(taskID string) {
	v, err := r.registry.View(taskID)
	if err != nil {
		return
	}
	r.publish(logger.WithTaskID(r.baseCtx, taskID), messagequeue.SubjectTaskStatus, messagequeue.TaskStatusPayload{
		TaskID:   v.ID,
		Status:   string(v.Status),
		Mode:     string(v.Mode),
		Attempts: v.Attempts,
	})
	r.broadcastStatus(v)
}

func (r *RouterService) broadcastStatus(v task.StatusView) {
	r.hub.BroadcastEvent(r.baseCtx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:   v.ID,
		Status:   string(v.Status),
		Mode:     string(v.Mode),
		Attempts: v.Attempts,
		Error:    v.Error,
	})
}

// publish marshals a payload and publishes it to the lifecycle queue. The
// context carries the task ID so failures are attributable.
func (r *RouterService) publish(ctx context.Context, subject string, payload any) {
	if r.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "task_id", logger.TaskID(ctx), "error", err)
		return
	}
	if err := r.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("publish lifecycle event", "subject", subject, "task_id", logger.TaskID(ctx), "error", err)
	}
}
