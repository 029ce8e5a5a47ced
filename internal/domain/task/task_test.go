package task_test

import (
	"testing"

	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
)

func TestStatusIsTerminal(t *testing.T) {
	terminal := []task.Status{task.StatusCompleted, task.StatusFailed}
	live := []task.Status{
		task.StatusPending, task.StatusRouting,
		task.StatusExecuting, task.StatusAwaitingApproval,
	}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCurrentMode(t *testing.T) {
	tk := &task.Task{}
	if got := tk.CurrentMode(); got != "" {
		t.Fatalf("empty history should give empty mode, got %q", got)
	}

	tk.ModeHistory = []strategy.Mode{strategy.ModeReviewed, strategy.ModeFullLoop}
	if got := tk.CurrentMode(); got != strategy.ModeFullLoop {
		t.Fatalf("CurrentMode() = %s, want %s", got, strategy.ModeFullLoop)
	}
}

func TestViewCopiesResult(t *testing.T) {
	tk := &task.Task{
		ID:          "t1",
		Status:      task.StatusCompleted,
		ModeHistory: []strategy.Mode{strategy.ModeDirect},
		Attempts:    []task.Attempt{{Mode: strategy.ModeDirect}},
		Result:      &task.Result{Output: "ok"},
	}

	v := tk.View()
	if v.ID != "t1" || v.Status != task.StatusCompleted || v.Mode != strategy.ModeDirect {
		t.Fatalf("unexpected view: %+v", v)
	}
	if v.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", v.Attempts)
	}

	v.Result.Output = "mutated"
	if tk.Result.Output != "ok" {
		t.Error("view must not share the result with the task")
	}

	v.ModeHistory[0] = strategy.ModeFullLoop
	if tk.ModeHistory[0] != strategy.ModeDirect {
		t.Error("view must not share the mode history with the task")
	}
}
