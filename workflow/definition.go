package workflow

import (
	"fmt"
	"time"

	"github.com/certflow/certflow/types"
)

// StrategyType selects what happens when a step fails after its own retry
// policy is exhausted.
type StrategyType string

const (
	// StrategyStop aborts the execution with status failed.
	StrategyStop StrategyType = "stop"
	// StrategySkip records the error and advances past the step.
	StrategySkip StrategyType = "skip"
	// StrategyRetry re-runs the failed step, full retry policy included,
	// up to the strategy's MaxRetries.
	StrategyRetry StrategyType = "retry"
	// StrategyFallback jumps to the strategy's FallbackStep.
	StrategyFallback StrategyType = "fallback"
)

// ErrorHandlingStrategy is the definition-wide failure policy. A step's own
// OnError target, when set, takes precedence over the strategy's routing.
type ErrorHandlingStrategy struct {
	Type StrategyType `json:"type" yaml:"type"`
	// FallbackStep is the step id StrategyFallback jumps to.
	FallbackStep string `json:"fallback_step,omitempty" yaml:"fallback_step,omitempty"`
	// MaxRetries caps StrategyRetry re-runs per step, on top of the
	// step's own retry policy. Zero means one re-run.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// NotifyOnError publishes a workflow-error message when the
	// execution fails.
	NotifyOnError bool `json:"notify_on_error,omitempty" yaml:"notify_on_error,omitempty"`
}

// Step is one unit of work in a definition.
type Step struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Capability string `json:"capability" yaml:"capability"`

	// Input produces what the agent receives. Nil passes a snapshot of
	// the execution's data bag.
	Input *StepInput `json:"input,omitempty" yaml:"input,omitempty"`

	// Conditions gate the step. All must hold or the step is skipped
	// without invoking an agent and without recording a result.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	Retry   *RetryPolicy  `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// OnSuccess and OnError route to explicit step ids. Empty OnSuccess
	// advances to the next step in declared order; empty OnError defers
	// to the definition's error handling strategy.
	OnSuccess string `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnError   string `json:"on_error,omitempty" yaml:"on_error,omitempty"`

	// PreferVersion asks the registry for an exact agent version match.
	PreferVersion string `json:"prefer_version,omitempty" yaml:"prefer_version,omitempty"`
}

// Definition describes a workflow. Definitions are registered once and
// treated as read-only afterwards.
type Definition struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string                `json:"version,omitempty" yaml:"version,omitempty"`
	Steps       []Step                `json:"steps" yaml:"steps"`
	OnError     ErrorHandlingStrategy `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	// Timeout bounds the whole execution. Zero falls back to the
	// engine's default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks structural consistency: ids present and unique, routing
// targets resolvable, conditions and inputs well formed.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return types.NewValidationError("workflow id is required")
	}
	if len(d.Steps) == 0 {
		return types.NewValidationError("workflow has no steps").
			WithDetail("workflow_id", d.ID)
	}

	ids := make(map[string]struct{}, len(d.Steps))
	for _, step := range d.Steps {
		if step.ID == "" {
			return types.NewValidationError("step id is required").
				WithDetail("workflow_id", d.ID)
		}
		if _, dup := ids[step.ID]; dup {
			return types.NewValidationError(fmt.Sprintf("duplicate step id %q", step.ID)).
				WithDetail("workflow_id", d.ID)
		}
		ids[step.ID] = struct{}{}
	}

	for _, step := range d.Steps {
		if step.Capability == "" {
			return types.NewValidationError(fmt.Sprintf("step %q has no capability", step.ID)).
				WithDetail("workflow_id", d.ID)
		}
		if step.OnSuccess != "" {
			if _, ok := ids[step.OnSuccess]; !ok {
				return types.NewValidationError(
					fmt.Sprintf("step %q routes on_success to unknown step %q", step.ID, step.OnSuccess)).
					WithDetail("workflow_id", d.ID)
			}
		}
		if step.OnError != "" {
			if _, ok := ids[step.OnError]; !ok {
				return types.NewValidationError(
					fmt.Sprintf("step %q routes on_error to unknown step %q", step.ID, step.OnError)).
					WithDetail("workflow_id", d.ID)
			}
		}
		for i, cond := range step.Conditions {
			if err := cond.Validate(); err != nil {
				return types.WrapError(types.ErrValidation,
					fmt.Sprintf("step %q condition %d", step.ID, i), err)
			}
		}
		if err := step.Input.Validate(); err != nil {
			return types.WrapError(types.ErrValidation,
				fmt.Sprintf("step %q input", step.ID), err)
		}
		if step.Retry != nil {
			if err := step.Retry.Validate(); err != nil {
				return types.WrapError(types.ErrValidation,
					fmt.Sprintf("step %q retry policy", step.ID), err)
			}
		}
	}

	switch d.OnError.Type {
	case "", StrategyStop, StrategySkip, StrategyRetry:
	case StrategyFallback:
		if d.OnError.FallbackStep == "" {
			return types.NewValidationError("fallback strategy requires a fallback step").
				WithDetail("workflow_id", d.ID)
		}
		if _, ok := ids[d.OnError.FallbackStep]; !ok {
			return types.NewValidationError(
				fmt.Sprintf("fallback step %q does not exist", d.OnError.FallbackStep)).
				WithDetail("workflow_id", d.ID)
		}
	default:
		return types.NewValidationError(
			fmt.Sprintf("unknown error strategy %q", d.OnError.Type)).
			WithDetail("workflow_id", d.ID)
	}

	return nil
}

// stepIndex returns the declared position of a step id, or -1.
func (d *Definition) stepIndex(stepID string) int {
	for i, step := range d.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

// clone returns a copy that shares no mutable slices with the original, so
// a stored definition cannot be altered through the caller's value.
func (d *Definition) clone() *Definition {
	out := *d
	out.Steps = make([]Step, len(d.Steps))
	copy(out.Steps, d.Steps)
	for i := range out.Steps {
		if len(out.Steps[i].Conditions) > 0 {
			conds := make([]Condition, len(out.Steps[i].Conditions))
			copy(conds, out.Steps[i].Conditions)
			out.Steps[i].Conditions = conds
		}
	}
	return &out
}
