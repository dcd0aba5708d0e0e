package agent

import (
	"context"
	"time"
)

// Agent is the worker contract: an identity, the capabilities it advertises,
// and a single Process call. All orchestration-core components (registry,
// bus, workflow engine) depend on this interface only.
type Agent interface {
	// ID returns the agent's unique identifier.
	ID() string
	// Name returns the agent's human-readable display name.
	Name() string
	// Version returns the agent's version string.
	Version() string
	// Capabilities returns the capability names this agent can perform,
	// in declaration order.
	Capabilities() []string
	// Process executes one unit of work. It must honor ctx cancellation;
	// the engine treats a single Process call as its only suspension point.
	Process(ctx context.Context, input any) (any, error)
}

// HealthReporter is an optional interface for agents that expose a health
// probe. Agents without it are treated as healthy by the registry.
//
//	if hr, ok := a.(agent.HealthReporter); ok {
//	    err := hr.HealthCheck(ctx)
//	}
type HealthReporter interface {
	// HealthCheck returns nil when the agent is able to process work.
	HealthCheck(ctx context.Context) error
}

// Shutdowner is an optional interface for agents that hold resources.
// The registry invokes Shutdown asynchronously on unregister and logs,
// rather than propagates, its error.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// MetricsReporter is an optional interface for agents that track their own
// processing metrics.
type MetricsReporter interface {
	Metrics() Metrics
}

// Metrics is a point-in-time snapshot of an agent's processing statistics.
type Metrics struct {
	// Processed is the total number of Process invocations.
	Processed int64 `json:"processed"`

	// Failed is the number of Process invocations that returned an error.
	Failed int64 `json:"failed"`

	// AvgProcessingTime is the mean duration of a Process invocation.
	AvgProcessingTime time.Duration `json:"avg_processing_time"`

	// SuccessRate is (Processed-Failed)/Processed, or 1 when nothing has
	// been processed yet.
	SuccessRate float64 `json:"success_rate"`
}
