package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/port/executor"
	"github.com/taskfabric/taskfabric/internal/resilience"
	"github.com/taskfabric/taskfabric/internal/service"
)

// routerEnv is a fully wired core: decider, registry, pool, review queue,
// and router, with stub collaborators.
type routerEnv struct {
	router *service.RouterService
}

func newRouterEnv(t *testing.T, cls strategy.Classification, execs map[strategy.Mode]executor.Executor, opts ...func(*config.Config)) *routerEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.Decider.ClassifierRetryBase = time.Millisecond
	cfg.Review.BatchWindow = 5 * time.Millisecond
	cfg.Pool.Size = 2
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := executorRegistry(execs)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	decider := service.NewDeciderService(cfg.Decider, &stubClassifier{cls: cls}, breaker)
	tasks := service.NewRegistryService()
	pool := service.NewPoolService(cfg.Pool, registry, tasks)
	router := service.NewRouterService(cfg.Router, decider, tasks, pool, registry)
	reviews := service.NewReviewQueueService(cfg.Review, nil, router)
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

	return &routerEnv{router: router}
}

func executorRegistry(execs map[strategy.Mode]executor.Executor) *executor.Registry {
	reg := executor.NewRegistry()
	for mode, e := range execs {
		reg.Register(mode, e)
	}
	return reg
}

// okExecutor completes immediately with the given output.
func okExecutor(output string) executor.Executor {
	return executor.Func(func(context.Context, *task.Task, time.Duration) (*task.Result, error) {
		return &task.Result{Output: output}, nil
	})
}

// failExecutor always errors.
func failExecutor(msg string) executor.Executor {
	return executor.Func(func(context.Context, *task.Task, time.Duration) (*task.Result, error) {
		return nil, errors.New(msg)
	})
}

func lowRisk() strategy.Classification {
	return strategy.Classification{Complexity: 1, Risk: 1, Reversibility: strategy.ReversibilityFull}
}

func mediumRisk() strategy.Classification {
	return strategy.Classification{Complexity: 5, Risk: 5, Reversibility: strategy.ReversibilityFull}
}

func highRisk() strategy.Classification {
	return strategy.Classification{Complexity: 2, Risk: 9, Reversibility: strategy.ReversibilityFull}
}

// waitTerminal polls until the task reaches a terminal status.
func waitTerminal(t *testing.T, env *routerEnv, id string) task.StatusView {
	t.Helper()
	var v task.StatusView
	waitUntil(t, 2*time.Second, func() bool {
		var err error
		v, err = env.router.GetStatus(context.Background(), id)
		return err == nil && v.Status.IsTerminal()
	}, "task "+id+" terminal")
	return v
}

func waitStatus(t *testing.T, env *routerEnv, id string, want task.Status) {
	t.Helper()
	waitUntil(t, 2*time.Second, func() bool {
		v, err := env.router.GetStatus(context.Background(), id)
		return err == nil && v.Status == want
	}, "task "+id+" status "+string(want))
}

func TestRouterSubmitValidation(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("done"),
	})

	if _, err := env.router.Submit(context.Background(), task.CreateRequest{Description: "   "}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank description: got %v, want ErrInvalidInput", err)
	}
	if _, err := env.router.Submit(context.Background(), task.CreateRequest{Description: "x", Priority: 9}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad priority: got %v, want ErrInvalidInput", err)
	}
}

func TestRouterDirectPathBypassesReview(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("direct output"),
	})

	id, err := env.router.Submit(context.Background(), task.CreateRequest{Description: "list the buckets"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", v.Status, v.Error)
	}
	if v.Mode != strategy.ModeDirect {
		t.Fatalf("mode = %s, want direct", v.Mode)
	}
	if v.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", v.Attempts)
	}
	if v.Result == nil || v.Result.Output != "direct output" {
		t.Fatalf("result = %+v, want direct output", v.Result)
	}
}

func TestRouterEscalatesOnFailure(t *testing.T) {
	env := newRouterEnv(t, mediumRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeReviewed: failExecutor("flaky backend"),
		strategy.ModeFullLoop: okExecutor("recovered"),
	})

	id, err := env.router.Submit(context.Background(), task.CreateRequest{Description: "migrate the table"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed after escalation (error: %s)", v.Status, v.Error)
	}
	if v.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", v.Attempts)
	}

	want := []strategy.Mode{strategy.ModeReviewed, strategy.ModeFullLoop}
	if len(v.ModeHistory) != len(want) {
		t.Fatalf("mode history = %v, want %v", v.ModeHistory, want)
	}
	for i := range want {
		if v.ModeHistory[i] != want[i] {
			t.Fatalf("mode history = %v, want %v", v.ModeHistory, want)
		}
	}
	// Monotonic rigor.
	for i := 1; i < len(v.ModeHistory); i++ {
		if v.ModeHistory[i].Rigor() < v.ModeHistory[i-1].Rigor() {
			t.Fatalf("mode history %v decreases in rigor", v.ModeHistory)
		}
	}
}

func TestRouterFailsAfterMaxRetries(t *testing.T) {
	env := newRouterEnv(t, mediumRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeReviewed: failExecutor("first failure"),
		strategy.ModeFullLoop: failExecutor("second failure"),
	})

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "migrate the table"})

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", v.Status)
	}
	if v.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (bounded retries)", v.Attempts)
	}
	if !strings.Contains(v.Error, "first failure") || !strings.Contains(v.Error, "second failure") {
		t.Fatalf("error = %q, want aggregated attempt errors", v.Error)
	}
}

func TestRouterApprovalApproved(t *testing.T) {
	env := newRouterEnv(t, highRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeFullLoop: okExecutor("carefully done"),
	})

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "drop the replica"})
	waitStatus(t, env, id, task.StatusAwaitingApproval)

	pending := env.router.ListPendingApprovals()
	if len(pending) != 1 || pending[0].TaskID != id {
		t.Fatalf("pending = %+v, want one request for %s", pending, id)
	}
	if pending[0].Strategy.Mode != strategy.ModeHumanApproval {
		t.Fatalf("pending mode = %s, want human_approval", pending[0].Strategy.Mode)
	}

	if err := env.router.Resolve(context.Background(), id, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed after approval (error: %s)", v.Status, v.Error)
	}
	if v.Mode != strategy.ModeFullLoop {
		t.Fatalf("mode = %s, approved tasks execute as full loop", v.Mode)
	}
	if len(env.router.ListPendingApprovals()) != 0 {
		t.Fatal("approval should be cleared after resolution")
	}
}

func TestRouterApprovalRejected(t *testing.T) {
	env := newRouterEnv(t, highRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeFullLoop: okExecutor("never runs"),
	})

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "drop the replica"})
	waitStatus(t, env, id, task.StatusAwaitingApproval)

	if err := env.router.Resolve(context.Background(), id, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", v.Status)
	}
	if v.Error != "rejected" {
		t.Fatalf("error = %q, want rejected", v.Error)
	}
	if v.Attempts != 0 {
		t.Fatalf("attempts = %d, rejection must not count as an attempt", v.Attempts)
	}
}

func TestRouterApprovalExpires(t *testing.T) {
	env := newRouterEnv(t, highRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeFullLoop: okExecutor("never runs"),
	}, func(cfg *config.Config) {
		cfg.Router.ApprovalTTL = 20 * time.Millisecond
	})

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "drop the replica"})

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed on expiry", v.Status)
	}
	if v.Error != "approval timed out" {
		t.Fatalf("error = %q, want approval timed out", v.Error)
	}
}

func TestRouterResolveInvalidStates(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("done"),
	})

	if err := env.router.Resolve(context.Background(), "ghost", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown task: got %v, want ErrNotFound", err)
	}

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "quick one"})
	waitTerminal(t, env, id)

	if err := env.router.Resolve(context.Background(), id, true); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("terminal task: got %v, want ErrInvalidState", err)
	}
}

func TestRouterCancelExecuting(t *testing.T) {
	env := newRouterEnv(t, mediumRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeReviewed: executor.Func(func(ctx context.Context, _ *task.Task, _ time.Duration) (*task.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "long haul"})
	waitStatus(t, env, id, task.StatusExecuting)

	if err := env.router.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusFailed || v.Error != "cancelled" {
		t.Fatalf("status = %s error = %q, want failed/cancelled", v.Status, v.Error)
	}

	// Cancelling a terminal task is a state error.
	if err := env.router.Cancel(context.Background(), id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second Cancel: got %v, want ErrInvalidState", err)
	}
}

func TestRouterCancelAwaitingApprovalRejects(t *testing.T) {
	env := newRouterEnv(t, highRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeFullLoop: okExecutor("never runs"),
	})

	id, _ := env.router.Submit(context.Background(), task.CreateRequest{Description: "drop the replica"})
	waitStatus(t, env, id, task.StatusAwaitingApproval)

	if err := env.router.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	v := waitTerminal(t, env, id)
	if v.Status != task.StatusFailed || v.Error != "rejected" {
		t.Fatalf("status = %s error = %q, cancel during approval resolves as rejected", v.Status, v.Error)
	}
}

func TestRouterDependencies(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("done"),
	})
	ctx := context.Background()

	depID, _ := env.router.Submit(ctx, task.CreateRequest{Description: "produce dataset"})
	waitTerminal(t, env, depID)

	// Dependency already completed: runs immediately.
	childID, err := env.router.Submit(ctx, task.CreateRequest{
		Description: "consume dataset",
		DependsOn:   []string{depID},
	})
	if err != nil {
		t.Fatalf("Submit with satisfied dependency: %v", err)
	}
	if v := waitTerminal(t, env, childID); v.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", v.Status)
	}

	// Unknown dependency is rejected synchronously.
	if _, err := env.router.Submit(ctx, task.CreateRequest{
		Description: "orphan",
		DependsOn:   []string{"no-such-task"},
	}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("unknown dependency: got %v, want ErrInvalidInput", err)
	}
}

func TestRouterDependencyGating(t *testing.T) {
	release := make(chan struct{})
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: executor.Func(func(ctx context.Context, tk *task.Task, _ time.Duration) (*task.Result, error) {
			if tk.Description == "slow parent" {
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &task.Result{Output: "done"}, nil
		}),
	})
	ctx := context.Background()

	parentID, _ := env.router.Submit(ctx, task.CreateRequest{Description: "slow parent"})
	childID, err := env.router.Submit(ctx, task.CreateRequest{
		Description: "waiting child",
		DependsOn:   []string{parentID},
	})
	if err != nil {
		t.Fatalf("Submit child: %v", err)
	}

	// The child must hold at pending while its parent runs.
	v, err := env.router.GetStatus(ctx, childID)
	if err != nil {
		t.Fatalf("GetStatus child: %v", err)
	}
	if v.Status != task.StatusPending {
		t.Fatalf("child status = %s, want pending while gated", v.Status)
	}

	close(release)
	waitTerminal(t, env, parentID)
	if v := waitTerminal(t, env, childID); v.Status != task.StatusCompleted {
		t.Fatalf("child status = %s, want completed after parent", v.Status)
	}
}

func TestRouterDependencyFailureFailsDependents(t *testing.T) {
	env := newRouterEnv(t, mediumRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeReviewed: failExecutor("parent broke"),
		strategy.ModeFullLoop: failExecutor("parent broke again"),
		strategy.ModeDirect:   okExecutor("never runs"),
	})
	ctx := context.Background()

	parentID, _ := env.router.Submit(ctx, task.CreateRequest{Description: "doomed parent"})
	childID, _ := env.router.Submit(ctx, task.CreateRequest{
		Description: "dependent child",
		DependsOn:   []string{parentID},
	})

	v := waitTerminal(t, env, childID)
	if v.Status != task.StatusFailed {
		t.Fatalf("child status = %s, want failed", v.Status)
	}
	if !strings.Contains(v.Error, "dependency") {
		t.Fatalf("child error = %q, want dependency failure", v.Error)
	}
}

func TestRouterExecuteBatch(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("done"),
	})

	reqs := []task.CreateRequest{
		{Description: "first"},
		{Description: "second"},
		{Description: "third"},
	}

	views, err := env.router.ExecuteBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("ExecuteBatch: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("got %d views, want 3", len(views))
	}
	for i, v := range views {
		if v.Status != task.StatusCompleted {
			t.Fatalf("task %d status = %s, want completed", i, v.Status)
		}
	}
}

func TestRouterExecuteBatchRejectsInvalid(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("done"),
	})

	_, err := env.router.ExecuteBatch(context.Background(), []task.CreateRequest{
		{Description: "fine"},
		{Description: ""},
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestRouterGetStatusUnknown(t *testing.T) {
	env := newRouterEnv(t, lowRisk(), map[strategy.Mode]executor.Executor{
		strategy.ModeDirect: okExecutor("done"),
	})

	if _, err := env.router.GetStatus(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
