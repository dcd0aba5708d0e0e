package agent

import (
	"context"
	"sync/atomic"
	"time"
)

// ProcessFunc is the signature of an agent's processing function.
type ProcessFunc func(ctx context.Context, input any) (any, error)

// FuncAgent adapts a plain function into an Agent. It tracks processing
// metrics automatically and optionally carries health and shutdown hooks.
type FuncAgent struct {
	id           string
	name         string
	version      string
	capabilities []string
	process      ProcessFunc

	health   func(ctx context.Context) error
	shutdown func(ctx context.Context) error

	processed atomic.Int64
	failed    atomic.Int64
	totalNS   atomic.Int64
}

// FuncAgentOption configures a FuncAgent.
type FuncAgentOption func(*FuncAgent)

// WithName sets the display name. Defaults to the id.
func WithName(name string) FuncAgentOption {
	return func(a *FuncAgent) { a.name = name }
}

// WithVersion sets the version string. Defaults to "1.0.0".
func WithVersion(version string) FuncAgentOption {
	return func(a *FuncAgent) { a.version = version }
}

// WithHealthFunc sets the health probe invoked by registry health checks.
func WithHealthFunc(fn func(ctx context.Context) error) FuncAgentOption {
	return func(a *FuncAgent) { a.health = fn }
}

// WithShutdownFunc sets the hook invoked when the agent is unregistered.
func WithShutdownFunc(fn func(ctx context.Context) error) FuncAgentOption {
	return func(a *FuncAgent) { a.shutdown = fn }
}

// NewFuncAgent creates an Agent from a processing function.
func NewFuncAgent(id string, capabilities []string, process ProcessFunc, opts ...FuncAgentOption) *FuncAgent {
	a := &FuncAgent{
		id:           id,
		name:         id,
		version:      "1.0.0",
		capabilities: capabilities,
		process:      process,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the agent's unique identifier.
func (a *FuncAgent) ID() string { return a.id }

// Name returns the agent's display name.
func (a *FuncAgent) Name() string { return a.name }

// Version returns the agent's version string.
func (a *FuncAgent) Version() string { return a.version }

// Capabilities returns the declared capability names.
func (a *FuncAgent) Capabilities() []string {
	caps := make([]string, len(a.capabilities))
	copy(caps, a.capabilities)
	return caps
}

// Process invokes the wrapped function and records metrics.
func (a *FuncAgent) Process(ctx context.Context, input any) (any, error) {
	start := time.Now()
	out, err := a.process(ctx, input)

	a.processed.Add(1)
	a.totalNS.Add(int64(time.Since(start)))
	if err != nil {
		a.failed.Add(1)
	}
	return out, err
}

// HealthCheck runs the configured health probe; a FuncAgent without one
// reports healthy.
func (a *FuncAgent) HealthCheck(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health(ctx)
}

// Shutdown runs the configured shutdown hook, if any.
func (a *FuncAgent) Shutdown(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(ctx)
}

// Metrics returns a snapshot of the agent's processing statistics.
func (a *FuncAgent) Metrics() Metrics {
	processed := a.processed.Load()
	failed := a.failed.Load()

	m := Metrics{
		Processed:   processed,
		Failed:      failed,
		SuccessRate: 1,
	}
	if processed > 0 {
		m.AvgProcessingTime = time.Duration(a.totalNS.Load() / processed)
		m.SuccessRate = float64(processed-failed) / float64(processed)
	}
	return m
}

var (
	_ Agent           = (*FuncAgent)(nil)
	_ HealthReporter  = (*FuncAgent)(nil)
	_ Shutdowner      = (*FuncAgent)(nil)
	_ MetricsReporter = (*FuncAgent)(nil)
)
