// Package strategy defines execution modes and the strategy decision record.
package strategy

import (
	"fmt"
	"time"
)

// Mode is the rigor level applied to a task. The set is closed: Direct,
// Reviewed, FullLoop, and HumanApproval are the only valid values.
type Mode string

const (
	ModeDirect        Mode = "direct"
	ModeReviewed      Mode = "reviewed"
	ModeFullLoop      Mode = "full_loop"
	ModeHumanApproval Mode = "human_approval"
)

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeDirect, ModeReviewed, ModeFullLoop, ModeHumanApproval:
		return true
	}
	return false
}

// Rigor returns the position of the mode on the escalation ladder.
// HumanApproval sits above the ladder: it never escalates further.
func (m Mode) Rigor() int {
	switch m {
	case ModeDirect:
		return 0
	case ModeReviewed:
		return 1
	case ModeFullLoop:
		return 2
	case ModeHumanApproval:
		return 3
	}
	return -1
}

// Escalate returns the next mode up the ladder Direct -> Reviewed -> FullLoop.
// FullLoop retries in place; HumanApproval resolves to FullLoop on approval
// and is never escalated.
func (m Mode) Escalate() Mode {
	switch m {
	case ModeDirect:
		return ModeReviewed
	case ModeReviewed:
		return ModeFullLoop
	default:
		return ModeFullLoop
	}
}

// RiskLevel buckets the classifier's numeric risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Reversibility describes how easily a task's effects can be undone.
type Reversibility string

const (
	ReversibilityFull    Reversibility = "full"
	ReversibilityPartial Reversibility = "partial"
	ReversibilityNone    Reversibility = "none"
)

// Classification is the output of the external strategy classifier.
type Classification struct {
	Complexity    float64       `json:"complexity"` // 0..10
	Risk          float64       `json:"risk"`       // 0..10
	EstimatedCost float64       `json:"estimated_cost"`
	Reversibility Reversibility `json:"reversibility"`
}

// Validate checks the classifier output is within its contract.
func (c Classification) Validate() error {
	if c.Complexity < 0 || c.Complexity > 10 {
		return fmt.Errorf("complexity %.1f out of range [0,10]", c.Complexity)
	}
	if c.Risk < 0 || c.Risk > 10 {
		return fmt.Errorf("risk %.1f out of range [0,10]", c.Risk)
	}
	switch c.Reversibility {
	case ReversibilityFull, ReversibilityPartial, ReversibilityNone:
	default:
		return fmt.Errorf("unknown reversibility %q", c.Reversibility)
	}
	return nil
}

// ExecutionStrategy is an immutable decision record produced once per
// routing attempt. A new one is produced on each escalation.
type ExecutionStrategy struct {
	Mode              Mode          `json:"mode"`
	Rationale         string        `json:"rationale"`
	Risk              RiskLevel     `json:"risk"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	EstimatedCost     float64       `json:"estimated_cost"`
	Timeout           time.Duration `json:"timeout"`
}

// RiskLevelFromScore buckets a numeric risk score into low/medium/high.
func RiskLevelFromScore(risk float64) RiskLevel {
	switch {
	case risk >= 7:
		return RiskHigh
	case risk >= 4:
		return RiskMedium
	default:
		return RiskLow
	}
}
