package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/port/executor"
	"github.com/taskfabric/taskfabric/internal/resilience"
)

// staticClassifier always returns the same classification.
type staticClassifier struct {
	cls strategy.Classification
}

func (s staticClassifier) Classify(context.Context, *task.Task) (strategy.Classification, error) {
	return s.cls, nil
}

func newDepgateRouter(t *testing.T) (*RouterService, *RegistryService) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Decider.ClassifierRetryBase = time.Millisecond
	cfg.Review.BatchWindow = 5 * time.Millisecond
	cfg.Pool.Size = 1

	execs := executor.NewRegistry()
	for _, mode := range []strategy.Mode{strategy.ModeDirect, strategy.ModeReviewed, strategy.ModeFullLoop} {
		execs.Register(mode, executor.Func(
			func(_ context.Context, tk *task.Task, _ time.Duration) (*task.Result, error) {
				return &task.Result{Output: tk.Description}, nil
			}))
	}

	cls := staticClassifier{cls: strategy.Classification{
		Complexity: 1, Risk: 1, Reversibility: strategy.ReversibilityFull,
	}}
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	decider := NewDeciderService(cfg.Decider, cls, breaker)
	registry := NewRegistryService()
	pool := NewPoolService(cfg.Pool, execs, registry)
	router := NewRouterService(cfg.Router, decider, registry, pool, execs)
	reviews := NewReviewQueueService(cfg.Review, nil, router)
	pool.SetReviewSink(reviews)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	reviews.Start(ctx)
	router.Start(ctx)
	t.Cleanup(func() {
		cancel()
		router.Stop()
		pool.Stop()
		reviews.Stop()
	})

	return router, registry
}

func waitForStatus(t *testing.T, reg *RegistryService, id string, want task.Status) task.StatusView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v, err := reg.View(id)
		if err != nil {
			t.Fatal(err)
		}
		if v.Status == want {
			return v
		}
		if v.Status.IsTerminal() {
			t.Fatalf("task %s status = %s, want %s (error: %s)", id, v.Status, want, v.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s stuck at %s, want %s", id, v.Status, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// A dependency can reach a terminal status between the intake status read
// and park registration; by then the dependent scan has already run, so
// the re-check is the only thing standing between the task and being
// stranded in pending.
func TestRecheckReleasesTaskParkedAfterDependencyCompleted(t *testing.T) {
	router, reg := newDepgateRouter(t)

	now := time.Now()
	parent := &task.Task{
		ID:          "parent-done",
		Description: "parent",
		Status:      task.StatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := reg.Add(parent); err != nil {
		t.Fatal(err)
	}

	child := &task.Task{
		ID:          "child",
		Description: "child",
		Status:      task.StatusPending,
		DependsOn:   []string{parent.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := reg.Add(child); err != nil {
		t.Fatal(err)
	}

	router.park(child, map[string]struct{}{parent.ID: {}})
	router.recheckDependencies(child.ID)

	v := waitForStatus(t, reg, child.ID, task.StatusCompleted)
	if v.Result == nil || v.Result.Output != "child" {
		t.Fatalf("result = %+v, want echoed description", v.Result)
	}
}

func TestRecheckFailsTaskParkedAfterDependencyFailed(t *testing.T) {
	router, reg := newDepgateRouter(t)

	now := time.Now()
	parent := &task.Task{
		ID:          "parent-bad",
		Description: "parent",
		Status:      task.StatusFailed,
		Error:       "boom",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := reg.Add(parent); err != nil {
		t.Fatal(err)
	}

	child := &task.Task{
		ID:          "doomed-child",
		Description: "child",
		Status:      task.StatusPending,
		DependsOn:   []string{parent.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := reg.Add(child); err != nil {
		t.Fatal(err)
	}

	router.park(child, map[string]struct{}{parent.ID: {}})
	router.recheckDependencies(child.ID)

	v := waitForStatus(t, reg, child.ID, task.StatusFailed)
	if !strings.Contains(v.Error, "dependency parent-bad failed") {
		t.Fatalf("error = %q, want dependency failure reason", v.Error)
	}
}

// A re-check on a task that is no longer parked must not touch it.
func TestRecheckIgnoresUnparkedTask(t *testing.T) {
	router, reg := newDepgateRouter(t)

	id, err := router.Submit(context.Background(), task.CreateRequest{Description: "solo"})
	if err != nil {
		t.Fatal(err)
	}

	router.recheckDependencies(id)

	v := waitForStatus(t, reg, id, task.StatusCompleted)
	if v.Result == nil || v.Result.Output != "solo" {
		t.Fatalf("result = %+v, want echoed description", v.Result)
	}
}
