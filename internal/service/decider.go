package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/domain/task"
	"github.com/taskfabric/taskfabric/internal/port/classifier"
	"github.com/taskfabric/taskfabric/internal/resilience"
)

// Override maps a literal description pattern to a fixed execution mode,
// bypassing the classifier entirely.
type Override struct {
	Pattern string
	Mode    strategy.Mode
}

// defaultOverrides is the built-in override table. Patterns are matched
// case-insensitively as substrings of the task description.
var defaultOverrides = []Override{
	{Pattern: "deploy to production", Mode: strategy.ModeHumanApproval},
	{Pattern: "delete all", Mode: strategy.ModeHumanApproval},
	{Pattern: "read-only query", Mode: strategy.ModeDirect},
}

// DeciderService converts classifier output into an execution strategy
// using fixed thresholds and an override table. Decisions are a pure
// function of classifier output plus the table; when the classifier cannot
// be reached it fails closed to human approval.
type DeciderService struct {
	cfg        config.Decider
	classifier classifier.Classifier
	breaker    *resilience.Breaker
	overrides  []Override
}

// NewDeciderService creates a DeciderService with the default override table.
func NewDeciderService(cfg config.Decider, cls classifier.Classifier, breaker *resilience.Breaker) *DeciderService {
	return &DeciderService{
		cfg:        cfg,
		classifier: cls,
		breaker:    breaker,
		overrides:  defaultOverrides,
	}
}

// AddOverride appends an entry to the override table.
func (s *DeciderService) AddOverride(o Override) {
	s.overrides = append(s.overrides, o)
}

// Decide returns the execution strategy for a task. It never returns an
// error: classifier unavailability resolves to the most conservative
// strategy (human approval) rather than a guess.
func (s *DeciderService) Decide(ctx context.Context, t *task.Task) *strategy.ExecutionStrategy {
	// 1. Override table wins over everything, including urgency.
	desc := strings.ToLower(t.Description)
	for _, o := range s.overrides {
		if strings.Contains(desc, o.Pattern) {
			st := &strategy.ExecutionStrategy{
				Mode:      o.Mode,
				Rationale: fmt.Sprintf("override: matched %q", o.Pattern),
				Risk:      riskForMode(o.Mode),
				Timeout:   s.timeoutFor(o.Mode),
			}
			return st
		}
	}

	// 2. Classify, retrying transient failures, behind the circuit breaker.
	cls, err := s.classify(ctx, t)
	if err != nil {
		slog.Warn("classifier unavailable, failing closed to human approval",
			"task_id", t.ID,
			"breaker_state", s.breaker.State(),
			"error", err,
		)
		return &strategy.ExecutionStrategy{
			Mode:      strategy.ModeHumanApproval,
			Rationale: "classification unavailable, failing closed",
			Risk:      strategy.RiskHigh,
			Timeout:   s.cfg.FullLoopTimeout,
		}
	}

	// 3. Fixed thresholds in priority order.
	var mode strategy.Mode
	var rationale string
	switch {
	case cls.Risk >= s.cfg.ApprovalRiskThreshold || cls.Reversibility == strategy.ReversibilityNone:
		mode = strategy.ModeHumanApproval
		rationale = fmt.Sprintf("risk %.1f or irreversible action requires human approval", cls.Risk)
	case cls.Complexity >= s.cfg.FullLoopComplexity:
		mode = strategy.ModeFullLoop
		rationale = fmt.Sprintf("complexity %.1f requires full loop", cls.Complexity)
	case cls.Complexity >= s.cfg.ReviewedComplexity || cls.Risk >= s.cfg.ReviewedRisk:
		mode = strategy.ModeReviewed
		rationale = fmt.Sprintf("complexity %.1f / risk %.1f requires review", cls.Complexity, cls.Risk)
	default:
		mode = strategy.ModeDirect
		rationale = fmt.Sprintf("low complexity %.1f and risk %.1f", cls.Complexity, cls.Risk)
	}

	// 4. Urgency downgrades everything except human approval.
	if t.Context["urgency"] == "immediate" && mode != strategy.ModeHumanApproval {
		mode = strategy.ModeDirect
		rationale += " (urgency override)"
	}

	return &strategy.ExecutionStrategy{
		Mode:              mode,
		Rationale:         rationale,
		Risk:              strategy.RiskLevelFromScore(cls.Risk),
		EstimatedDuration: estimateDuration(cls.Complexity),
		EstimatedCost:     cls.EstimatedCost,
		Timeout:           s.timeoutFor(mode),
	}
}

// Escalated produces the strategy for a retry one rung up the ladder.
// A fresh record is produced per escalation; the risk level carries over.
func (s *DeciderService) Escalated(prev *strategy.ExecutionStrategy, attempts int) *strategy.ExecutionStrategy {
	mode := prev.Mode.Escalate()
	return &strategy.ExecutionStrategy{
		Mode:              mode,
		Rationale:         fmt.Sprintf("escalated from %s after %d failed attempt(s)", prev.Mode, attempts),
		Risk:              prev.Risk,
		EstimatedDuration: prev.EstimatedDuration,
		EstimatedCost:     prev.EstimatedCost,
		Timeout:           s.timeoutFor(mode),
	}
}

// Approved produces the full-loop strategy a task executes under once a
// human has approved it.
func (s *DeciderService) Approved(prev *strategy.ExecutionStrategy) *strategy.ExecutionStrategy {
	return &strategy.ExecutionStrategy{
		Mode:              strategy.ModeFullLoop,
		Rationale:         "human approved, executing as full loop",
		Risk:              prev.Risk,
		EstimatedDuration: prev.EstimatedDuration,
		EstimatedCost:     prev.EstimatedCost,
		Timeout:           s.cfg.FullLoopTimeout,
	}
}

// classify invokes the external classifier with bounded retry inside the
// circuit breaker. Both an open breaker and exhausted retries surface as
// an error, which the caller treats as ClassificationUnavailable.
func (s *DeciderService) classify(ctx context.Context, t *task.Task) (strategy.Classification, error) {
	var cls strategy.Classification

	err := s.breaker.Execute(func() error {
		backoff := retry.WithMaxRetries(s.cfg.ClassifierRetries,
			retry.NewExponential(s.cfg.ClassifierRetryBase))
		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			c, err := s.classifier.Classify(ctx, t)
			if err != nil {
				return retry.RetryableError(err)
			}
			cls = c
			return nil
		})
	})
	if err != nil {
		return strategy.Classification{}, err
	}

	if err := cls.Validate(); err != nil {
		return strategy.Classification{}, fmt.Errorf("classifier contract violation: %w", err)
	}
	return cls, nil
}

// timeoutFor returns the suggested timeout ceiling for a mode.
func (s *DeciderService) timeoutFor(mode strategy.Mode) time.Duration {
	switch mode {
	case strategy.ModeDirect:
		return s.cfg.DirectTimeout
	case strategy.ModeReviewed:
		return s.cfg.ReviewedTimeout
	default:
		// FullLoop and the post-approval execution window.
		return s.cfg.FullLoopTimeout
	}
}

// riskForMode maps an override mode to a nominal risk level, since no
// classification exists for overridden tasks.
func riskForMode(mode strategy.Mode) strategy.RiskLevel {
	switch mode {
	case strategy.ModeHumanApproval:
		return strategy.RiskHigh
	case strategy.ModeFullLoop, strategy.ModeReviewed:
		return strategy.RiskMedium
	default:
		return strategy.RiskLow
	}
}

// estimateDuration derives a coarse duration estimate from complexity.
func estimateDuration(complexity float64) time.Duration {
	return time.Duration(complexity+1) * 30 * time.Second
}
