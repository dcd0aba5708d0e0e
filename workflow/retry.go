package workflow

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/certflow/certflow/types"
)

// BackoffStrategy selects how the delay between retry attempts grows.
type BackoffStrategy string

const (
	// BackoffFixed waits BaseDelay between every attempt.
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffLinear waits attempt * BaseDelay.
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential waits BaseDelay * 2^(attempt-1).
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds how often a step's agent call is re-attempted.
// MaxAttempts counts invocations, so an always failing agent with
// MaxAttempts 3 is called exactly three times.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts" yaml:"max_attempts"`
	Strategy    BackoffStrategy `json:"strategy" yaml:"strategy"`
	BaseDelay   time.Duration   `json:"base_delay" yaml:"base_delay"`
	// MaxDelay caps the computed delay when positive.
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	// Jitter spreads delays by up to ±25% to avoid retry bursts.
	Jitter bool `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// DefaultRetryPolicy is what steps without a policy get: a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Strategy: BackoffFixed}
}

// Validate rejects nonsensical policies.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return types.NewValidationError("retry policy needs max_attempts >= 1")
	}
	switch p.Strategy {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return types.NewValidationError(
			fmt.Sprintf("unknown backoff strategy %q", p.Strategy))
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return types.NewValidationError("retry delays must not be negative")
	}
	return nil
}

// Delay computes the wait after the given failed attempt, 1-based. The
// result is capped at MaxDelay when set.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch p.Strategy {
	case BackoffLinear:
		delay = float64(attempt) * float64(p.BaseDelay)
	case BackoffExponential:
		delay = float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	default:
		delay = float64(p.BaseDelay)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter && delay > 0 {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}
