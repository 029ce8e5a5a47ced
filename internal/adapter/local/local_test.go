package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/taskfabric/taskfabric/internal/adapter/local"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
)

func TestClassifierReadsContext(t *testing.T) {
	c := local.NewClassifier()

	cls, err := c.Classify(context.Background(), &task.Task{
		Context: map[string]string{
			"complexity":    "8",
			"risk":          "6.5",
			"cost":          "12",
			"reversibility": "partial",
		},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Complexity != 8 || cls.Risk != 6.5 || cls.EstimatedCost != 12 {
		t.Fatalf("classification = %+v", cls)
	}
	if cls.Reversibility != strategy.ReversibilityPartial {
		t.Fatalf("reversibility = %s, want partial", cls.Reversibility)
	}
}

func TestClassifierDefaults(t *testing.T) {
	c := local.NewClassifier()

	cls, err := c.Classify(context.Background(), &task.Task{Description: "simple"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if err := cls.Validate(); err != nil {
		t.Fatalf("default classification must satisfy the contract: %v", err)
	}
	if cls.Reversibility != strategy.ReversibilityFull {
		t.Fatalf("reversibility = %s, want full", cls.Reversibility)
	}
}

func TestClassifierRejectsBadScores(t *testing.T) {
	c := local.NewClassifier()

	_, err := c.Classify(context.Background(), &task.Task{
		Context: map[string]string{"risk": "not-a-number"},
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExecutorEchoes(t *testing.T) {
	e := local.NewExecutor(strategy.ModeDirect)

	res, err := e.Execute(context.Background(), &task.Task{Description: "say hi"}, time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "say hi" {
		t.Fatalf("output = %q, want echoed description", res.Output)
	}
	if res.Metadata["mode"] != "direct" {
		t.Fatalf("metadata = %v, want mode direct", res.Metadata)
	}
}

func TestExecutorHonoursCancelledContext(t *testing.T) {
	e := local.NewExecutor(strategy.ModeDirect)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Execute(ctx, &task.Task{Description: "never"}, time.Second); err == nil {
		t.Fatal("expected context error")
	}
}
