// Package certflow provides a one-call entry point for embedding the
// certification workflow engine.
//
// Usage:
//
//	import "github.com/certflow/certflow"
//
//	engine, err := certflow.New()
//	engine, err := certflow.New(certflow.WithConfig(cfg), certflow.WithLogger(logger))
//
// New wires a registry, a message bus, and an engine from one application
// config. Callers who need finer control construct the pieces from the
// workflow, bus, and registry packages directly.
package certflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/certflow/certflow/agent"
	"github.com/certflow/certflow/agent/registry"
	"github.com/certflow/certflow/bus"
	"github.com/certflow/certflow/config"
	"github.com/certflow/certflow/internal/metrics"
	"github.com/certflow/certflow/workflow"
)

// Re-export the handful of types and constructors most embedders need, so a
// single import of the root package suffices.

// Agent is the contract worker agents implement.
type Agent = agent.Agent

// Engine orchestrates workflow executions.
type Engine = workflow.Engine

// Definition describes a workflow.
type Definition = workflow.Definition

// Result is the synchronous outcome of an execution.
type Result = workflow.Result

// ExecutionSnapshot is a point-in-time copy of an execution's state.
type ExecutionSnapshot = workflow.ExecutionSnapshot

// NewBuilder starts a fluent workflow definition.
var NewBuilder = workflow.NewBuilder

// NewFuncAgent adapts a plain function into an Agent.
var NewFuncAgent = agent.NewFuncAgent

// Option configures the engine built by New.
type Option func(*options)

type options struct {
	cfg        *config.Config
	logger     *zap.Logger
	policy     string
	registerer prometheus.Registerer
}

// WithConfig supplies the application config. Defaults to
// config.DefaultConfig().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger shared by every component. Defaults to a nop
// logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSelectionPolicy overrides the registry selection policy from the
// config: registration-order, round-robin, least-busy or sticky.
func WithSelectionPolicy(name string) Option {
	return func(o *options) { o.policy = name }
}

// WithPrometheus registers the certflow collectors with reg and wires them
// through the engine, bus, and registry. The collector is reachable
// afterwards via Engine.Metrics.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds a ready-to-use engine: registry and bus constructed from the
// config sections, selection policy applied, metrics wired when requested.
// The engine owns the collaborators it builds here, so Engine.Close shuts
// the whole assembly down.
func New(opts ...Option) (*workflow.Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policyName := o.policy
	if policyName == "" {
		policyName = cfg.Registry.SelectionPolicy
	}
	policy, err := registry.NewPolicy(policyName)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.NewCollector(metrics.DefaultNamespace, o.registerer, logger)
	}

	engine := workflow.NewEngine(workflow.Config{
		MaxCompletedExecutions: cfg.Engine.MaxCompletedExecutions,
		CycleMultiplier:        cfg.Engine.CycleMultiplier,
		DefaultWorkflowTimeout: cfg.Engine.DefaultWorkflowTimeout,
		DefaultStepTimeout:     cfg.Engine.DefaultStepTimeout,
	}, nil, nil, logger,
		workflow.WithMetrics(collector),
		workflow.WithRegistryConfig(&registry.Config{
			HealthCheckTimeout: cfg.Registry.HealthCheckTimeout,
			ShutdownTimeout:    cfg.Registry.ShutdownTimeout,
			UnhealthyThreshold: cfg.Registry.UnhealthyThreshold,
			MonitorInterval:    cfg.Registry.MonitorInterval,
		}),
		workflow.WithBusConfig(bus.Config{
			HistoryCapacity: cfg.Bus.HistoryCapacity,
			DeliveryTimeout: cfg.Bus.DeliveryTimeout,
			Workers:         cfg.Bus.Workers,
			QueueSize:       cfg.Bus.QueueSize,
		}),
	)
	engine.Registry().SetSelectionPolicy(policy)

	return engine, nil
}
