package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/certflow/certflow/agent"
	"github.com/certflow/certflow/agent/registry"
	"github.com/certflow/certflow/bus"
	"github.com/certflow/certflow/internal/metrics"
	"github.com/certflow/certflow/types"
)

// Config tunes the engine.
type Config struct {
	// MaxCompletedExecutions caps the completed store; the oldest entry
	// is evicted past it.
	MaxCompletedExecutions int `json:"max_completed_executions" yaml:"max_completed_executions"`
	// CycleMultiplier sets the per-execution visit ceiling to
	// len(steps) * CycleMultiplier. Routing that loops past the ceiling
	// fails the run with WorkflowCycleDetected.
	CycleMultiplier int `json:"cycle_multiplier" yaml:"cycle_multiplier"`
	// DefaultWorkflowTimeout bounds executions whose definition sets no
	// timeout.
	DefaultWorkflowTimeout time.Duration `json:"default_workflow_timeout" yaml:"default_workflow_timeout"`
	// DefaultStepTimeout bounds agent calls for steps without their own
	// timeout. Zero leaves those calls unbounded.
	DefaultStepTimeout time.Duration `json:"default_step_timeout" yaml:"default_step_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxCompletedExecutions: 100,
		CycleMultiplier:        10,
		DefaultWorkflowTimeout: 5 * time.Minute,
	}
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMetrics points the engine at a metrics collector. A nil collector is
// a no-op.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithRegistryConfig shapes the registry the engine constructs when none is
// supplied to NewEngine. It has no effect when a registry is passed in.
func WithRegistryConfig(cfg *registry.Config) Option {
	return func(e *Engine) { e.registryConfig = cfg }
}

// WithBusConfig shapes the bus the engine constructs when none is supplied
// to NewEngine. It has no effect when a bus is passed in.
func WithBusConfig(cfg bus.Config) Option {
	return func(e *Engine) { e.busConfig = &cfg }
}

// Engine executes workflow definitions against capability-registered
// agents. Each engine owns its message bus unless one is supplied, so two
// engines never share lifecycle events by accident.
type Engine struct {
	config   Config
	logger   *zap.Logger
	registry *registry.Registry
	bus      *bus.Bus
	store    *DefinitionStore
	inputs   *InputFuncRegistry
	metrics  *metrics.Collector
	tracer   oteltrace.Tracer

	registryConfig *registry.Config
	busConfig      *bus.Config

	ownsBus      bool
	ownsRegistry bool

	mu     sync.RWMutex
	active map[string]*Execution

	completed *completedStore

	started         atomic.Int64
	succeeded       atomic.Int64
	failed          atomic.Int64
	totalDurationNS atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewEngine creates an engine. A nil registry or bus makes the engine
// construct and own its own; a nil logger falls back to a no-op logger.
func NewEngine(config Config, reg *registry.Registry, b *bus.Bus, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxCompletedExecutions <= 0 {
		config.MaxCompletedExecutions = def.MaxCompletedExecutions
	}
	if config.CycleMultiplier < 1 {
		config.CycleMultiplier = def.CycleMultiplier
	}
	if config.DefaultWorkflowTimeout <= 0 {
		config.DefaultWorkflowTimeout = def.DefaultWorkflowTimeout
	}

	e := &Engine{
		config:    config,
		logger:    logger.With(zap.String("component", "workflow_engine")),
		registry:  reg,
		bus:       b,
		store:     NewDefinitionStore(logger),
		inputs:    NewInputFuncRegistry(),
		tracer:    otel.Tracer("certflow/workflow"),
		active:    make(map[string]*Execution),
		completed: newCompletedStore(config.MaxCompletedExecutions),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		rcfg := e.registryConfig
		if rcfg == nil {
			rcfg = registry.DefaultConfig()
		}
		e.registry = registry.New(rcfg, logger, registry.WithMetrics(e.metrics))
		e.ownsRegistry = true
	}
	if e.bus == nil {
		bcfg := bus.DefaultConfig()
		if e.busConfig != nil {
			bcfg = *e.busConfig
		}
		e.bus = bus.New(bcfg, logger, bus.WithMetrics(e.metrics))
		e.ownsBus = true
	}
	return e
}

// Registry returns the agent registry the engine dispatches against.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Bus returns the engine's message bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Inputs returns the registry for named input functions.
func (e *Engine) Inputs() *InputFuncRegistry { return e.inputs }

// Metrics returns the wired collector, or nil when none was injected. The
// collector is nil-safe, so callers may use the result unconditionally.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// RegisterWorkflow stores a definition, silently overwriting a previous
// one with the same id.
func (e *Engine) RegisterWorkflow(def *Definition) error {
	return e.store.Register(def)
}

// Workflow returns a registered definition.
func (e *Engine) Workflow(id string) (*Definition, bool) {
	return e.store.Get(id)
}

// Workflows lists registered definitions sorted by id.
func (e *Engine) Workflows() []*Definition {
	return e.store.List()
}

// Result is the synchronous answer to ExecuteWorkflow. Routing failures
// such as an unknown workflow id are reported here with Success false and
// a populated Error, never as a Go error.
type Result struct {
	Success      bool           `json:"success"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	WorkflowID   string         `json:"workflow_id"`
	Status       Status         `json:"status,omitempty"`
	Results      map[string]any `json:"results,omitempty"`
	Error        *types.Error   `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration"`
	StepsVisited int            `json:"steps_visited"`
}

// ExecuteWorkflow runs a workflow to its terminal status and reports the
// outcome. All workflow-level failures, including WorkflowNotFound, land
// in the Result; the error return is non-nil only when the engine itself
// cannot accept work.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*Result, error) {
	if e.closed.Load() {
		return nil, types.NewError(types.ErrInternal, "engine is closed")
	}

	def, ok := e.store.Get(workflowID)
	if !ok {
		e.logger.Warn("workflow not found", zap.String("workflow_id", workflowID))
		return &Result{
			Success:    false,
			WorkflowID: workflowID,
			Error:      types.NewWorkflowNotFoundError(workflowID),
		}, nil
	}

	exec := e.admit(def, input)
	e.run(ctx, def, exec)

	snap := exec.Snapshot()
	return &Result{
		Success:      snap.Status == StatusCompleted,
		ExecutionID:  snap.ID,
		WorkflowID:   def.ID,
		Status:       snap.Status,
		Results:      snap.Results,
		Error:        snap.Error,
		Duration:     snap.Duration,
		StepsVisited: len(snap.Traces),
	}, nil
}

// ExecuteWorkflowAsync starts a run in the background and returns its
// execution id. Progress is observable through Execution and the
// workflow-completed message.
func (e *Engine) ExecuteWorkflowAsync(workflowID string, input map[string]any) (string, error) {
	if e.closed.Load() {
		return "", types.NewError(types.ErrInternal, "engine is closed")
	}

	def, ok := e.store.Get(workflowID)
	if !ok {
		return "", types.NewWorkflowNotFoundError(workflowID)
	}

	exec := e.admit(def, input)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(context.Background(), def, exec)
	}()
	return exec.ID, nil
}

// admit creates an execution and places it in the active set.
func (e *Engine) admit(def *Definition, input map[string]any) *Execution {
	exec := newExecution(def.ID, input)
	e.mu.Lock()
	e.active[exec.ID] = exec
	e.mu.Unlock()
	e.started.Add(1)
	e.metrics.RecordExecutionStarted()
	return exec
}

// stepOutcome is what one step attempt cycle produced. A non-empty
// terminal status means the whole run must end now, discarding any
// in-flight result.
type stepOutcome struct {
	output      any
	err         error
	terminal    Status
	terminalErr *types.Error
}

// run walks the step graph until a terminal status is sealed.
func (e *Engine) run(ctx context.Context, def *Definition, exec *Execution) {
	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		oteltrace.WithAttributes(
			attribute.String("workflow.id", def.ID),
			attribute.String("execution.id", exec.ID)))
	defer func() {
		snap := exec.Snapshot()
		span.SetAttributes(attribute.String("workflow.status", string(snap.Status)))
		if snap.Error != nil {
			span.RecordError(snap.Error)
			span.SetStatus(codes.Error, snap.Error.Message)
		}
		span.End()
	}()

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultWorkflowTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	total := len(def.Steps)
	ceiling := total * e.config.CycleMultiplier

	e.logger.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", def.ID),
		zap.Int("steps", total),
		zap.Duration("timeout", timeout))

	idx := 0
	for {
		select {
		case <-deadline.C:
			e.finish(def, exec, StatusCancelled, types.NewWorkflowTimeoutError(def.ID, timeout))
			return
		case <-exec.cancelSignal():
			e.finish(def, exec, StatusCancelled,
				types.NewError(types.ErrWorkflowCancelled, "execution cancelled"))
			return
		case <-ctx.Done():
			e.finish(def, exec, StatusCancelled,
				types.WrapError(types.ErrWorkflowCancelled, "caller context cancelled", ctx.Err()))
			return
		default:
		}

		if idx >= total {
			e.finish(def, exec, StatusCompleted, nil)
			return
		}
		step := def.Steps[idx]

		visits := exec.beginStep(step.ID, idx, total)
		if visits > ceiling {
			e.finish(def, exec, StatusFailed, types.NewWorkflowCycleError(def.ID, visits, ceiling))
			return
		}

		if !conditionsHold(step, exec) {
			e.logger.Debug("step skipped by condition",
				zap.String("execution_id", exec.ID),
				zap.String("step_id", step.ID))
			exec.recordTrace(StepTrace{
				StepID:    step.ID,
				Skipped:   true,
				StartedAt: time.Now(),
			})
			e.metrics.RecordStep(def.ID, step.ID, "skipped", 0)
			idx = successorIndex(def, step, idx)
			continue
		}

		outcome := e.invokeStep(ctx, def, exec, step, deadline, timeout)
		if outcome.terminal != "" {
			e.finish(def, exec, outcome.terminal, outcome.terminalErr)
			return
		}

		if outcome.err == nil {
			exec.recordSuccess(step.ID, outcome.output)
			idx = successorIndex(def, step, idx)
			continue
		}

		// Failure after the step's own retry policy. The step's explicit
		// error target wins over the definition strategy.
		if step.OnError != "" {
			e.logger.Warn("step failed, routing to error target",
				zap.String("execution_id", exec.ID),
				zap.String("step_id", step.ID),
				zap.String("target", step.OnError),
				zap.Error(outcome.err))
			idx = def.stepIndex(step.OnError)
			continue
		}

		switch def.OnError.Type {
		case StrategySkip:
			e.logger.Warn("step failed, skipping",
				zap.String("execution_id", exec.ID),
				zap.String("step_id", step.ID),
				zap.Error(outcome.err))
			idx = successorIndex(def, step, idx)

		case StrategyRetry:
			maxRetries := def.OnError.MaxRetries
			if maxRetries <= 0 {
				maxRetries = 1
			}
			if exec.strategyRetryCount(step.ID) < maxRetries {
				cycle := exec.bumpStrategyRetry(step.ID)
				e.logger.Warn("step failed, re-running",
					zap.String("execution_id", exec.ID),
					zap.String("step_id", step.ID),
					zap.Int("cycle", cycle),
					zap.Int("max_cycles", maxRetries),
					zap.Error(outcome.err))
				// idx unchanged, the loop revisits the step.
			} else {
				e.finish(def, exec, StatusFailed, asWorkflowError(outcome.err))
				return
			}

		case StrategyFallback:
			e.logger.Warn("step failed, jumping to fallback",
				zap.String("execution_id", exec.ID),
				zap.String("step_id", step.ID),
				zap.String("fallback", def.OnError.FallbackStep),
				zap.Error(outcome.err))
			idx = def.stepIndex(def.OnError.FallbackStep)

		default: // StrategyStop and unset
			e.finish(def, exec, StatusFailed, asWorkflowError(outcome.err))
			return
		}
	}
}

// invokeStep resolves an agent, builds the input and calls the agent under
// the step's retry policy. Backoff waits watch the same cancellation
// sources as the run loop.
func (e *Engine) invokeStep(ctx context.Context, def *Definition, exec *Execution, step Step, deadline *time.Timer, timeout time.Duration) (outcome stepOutcome) {
	ctx, span := e.tracer.Start(ctx, "workflow.step",
		oteltrace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.capability", step.Capability)))
	defer func() {
		if outcome.err != nil {
			span.RecordError(outcome.err)
			span.SetStatus(codes.Error, outcome.err.Error())
		}
		span.End()
	}()

	input, err := step.Input.resolve(exec.Context, e.inputs)
	if err != nil {
		exec.recordError(step.ID, err)
		exec.recordTrace(StepTrace{StepID: step.ID, StartedAt: time.Now(), Err: err.Error()})
		e.metrics.RecordStep(def.ID, step.ID, "failed", 0)
		return stepOutcome{err: err}
	}

	ag, err := e.registry.FindBestAgent(step.Capability, registry.SelectionCriteria{
		PreferVersion: step.PreferVersion,
		CorrelationID: exec.ID,
	})
	if err != nil {
		// Routing failure, not a processing failure: no agent could
		// appear mid-retry, so the run fails immediately.
		e.logger.Error("no capable agent",
			zap.String("execution_id", exec.ID),
			zap.String("step_id", step.ID),
			zap.String("capability", step.Capability))
		exec.recordError(step.ID, err)
		exec.recordTrace(StepTrace{StepID: step.ID, StartedAt: time.Now(), Err: err.Error()})
		e.metrics.RecordStep(def.ID, step.ID, "failed", 0)
		return stepOutcome{terminal: StatusFailed, terminalErr: asWorkflowError(err)}
	}

	policy := DefaultRetryPolicy()
	if step.Retry != nil {
		policy = *step.Retry
	}

	span.SetAttributes(attribute.String("agent.id", ag.ID()))

	trace := StepTrace{StepID: step.ID, AgentID: ag.ID(), StartedAt: time.Now()}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		exec.setRetryCount(step.ID, attempt)
		trace.Attempts = attempt
		if attempt > 1 {
			e.metrics.RecordStepRetry(def.ID, step.ID)
		}

		output, callErr, interrupted := e.callAgent(ctx, exec, step, ag, input, deadline, timeout)
		if interrupted != nil {
			return *interrupted
		}
		if callErr == nil {
			trace.Duration = time.Since(trace.StartedAt)
			exec.recordTrace(trace)
			e.metrics.RecordStep(def.ID, step.ID, "success", trace.Duration)
			return stepOutcome{output: output}
		}

		lastErr = callErr
		exec.recordError(step.ID, callErr)
		e.logger.Warn("step attempt failed",
			zap.String("execution_id", exec.ID),
			zap.String("step_id", step.ID),
			zap.String("agent_id", ag.ID()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(callErr))

		if attempt < policy.MaxAttempts {
			if delay := policy.Delay(attempt); delay > 0 {
				select {
				case <-time.After(delay):
				case <-deadline.C:
					return stepOutcome{
						terminal:    StatusCancelled,
						terminalErr: types.NewWorkflowTimeoutError(def.ID, timeout),
					}
				case <-exec.cancelSignal():
					return stepOutcome{
						terminal:    StatusCancelled,
						terminalErr: types.NewError(types.ErrWorkflowCancelled, "execution cancelled"),
					}
				case <-ctx.Done():
					return stepOutcome{
						terminal:    StatusCancelled,
						terminalErr: types.WrapError(types.ErrWorkflowCancelled, "caller context cancelled", ctx.Err()),
					}
				}
			}
		}
	}

	trace.Duration = time.Since(trace.StartedAt)
	trace.Err = lastErr.Error()
	exec.recordTrace(trace)
	e.metrics.RecordStep(def.ID, step.ID, "failed", trace.Duration)
	return stepOutcome{err: lastErr}
}

// callAgent performs one agent invocation. The overall deadline and
// cancellation do not preempt the call; they abandon it, and the late
// result is drained only so the registry metrics stay accurate.
func (e *Engine) callAgent(ctx context.Context, exec *Execution, step Step, ag agent.Agent, input any, deadline *time.Timer, timeout time.Duration) (any, error, *stepOutcome) {
	stepTimeout := step.Timeout
	if stepTimeout <= 0 {
		stepTimeout = e.config.DefaultStepTimeout
	}
	callCtx := context.Background()
	cancel := context.CancelFunc(func() {})
	if stepTimeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, stepTimeout)
	}

	type callResult struct {
		output any
		err    error
	}
	resultCh := make(chan callResult, 1)

	e.registry.BeginExecution(ag.ID())
	start := time.Now()
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{err: types.NewAgentProcessingError(ag.ID(),
					fmt.Errorf("agent panic: %v", r))}
			}
		}()

		output, err := ag.Process(callCtx, input)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = types.NewError(types.ErrStepTimeout,
					fmt.Sprintf("step %s timed out after %s", step.ID, stepTimeout)).
					WithRetryable(true).
					WithCause(err)
			} else {
				err = types.NewAgentProcessingError(ag.ID(), err)
			}
		}
		resultCh <- callResult{output: output, err: err}
	}()

	record := func(res callResult) {
		e.registry.RecordExecution(ag.ID(), time.Since(start), res.err == nil)
	}
	abandon := func() {
		go func() {
			record(<-resultCh)
			e.logger.Debug("discarded agent result after terminal status",
				zap.String("execution_id", exec.ID),
				zap.String("step_id", step.ID),
				zap.String("agent_id", ag.ID()))
		}()
	}

	select {
	case res := <-resultCh:
		record(res)
		return res.output, res.err, nil
	case <-deadline.C:
		abandon()
		return nil, nil, &stepOutcome{
			terminal:    StatusCancelled,
			terminalErr: types.NewWorkflowTimeoutError(exec.WorkflowID, timeout),
		}
	case <-exec.cancelSignal():
		abandon()
		return nil, nil, &stepOutcome{
			terminal:    StatusCancelled,
			terminalErr: types.NewError(types.ErrWorkflowCancelled, "execution cancelled"),
		}
	case <-ctx.Done():
		abandon()
		return nil, nil, &stepOutcome{
			terminal:    StatusCancelled,
			terminalErr: types.WrapError(types.ErrWorkflowCancelled, "caller context cancelled", ctx.Err()),
		}
	}
}

// finish seals the execution, moves it to the completed store, updates
// counters and publishes lifecycle messages. A second finish for the same
// execution is a no-op, which is what discards straggler outcomes.
func (e *Engine) finish(def *Definition, exec *Execution, status Status, terr *types.Error) {
	if !exec.seal(status, terr) {
		return
	}

	e.mu.Lock()
	delete(e.active, exec.ID)
	e.mu.Unlock()
	e.completed.add(exec)

	snap := exec.Snapshot()
	e.totalDurationNS.Add(int64(snap.Duration))
	if status == StatusCompleted {
		e.succeeded.Add(1)
	} else {
		e.failed.Add(1)
	}
	e.metrics.RecordExecution(exec.WorkflowID, string(status), snap.Duration)

	e.logger.Info("execution finished",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", exec.WorkflowID),
		zap.String("status", string(status)),
		zap.Duration("duration", snap.Duration),
		zap.Int("steps_visited", len(snap.Traces)))

	completedPayload := map[string]any{
		"execution_id": snap.ID,
		"workflow_id":  snap.WorkflowID,
		"status":       string(status),
		"duration_ms":  snap.Duration.Milliseconds(),
		"results":      snap.Results,
	}
	if err := e.bus.Publish(context.Background(), bus.NewMessage(
		bus.TypeWorkflowCompleted, completedPayload,
		bus.WithSource("workflow-engine"),
		bus.WithCorrelation(snap.ID),
	)); err != nil {
		e.logger.Warn("workflow-completed publish failed", zap.Error(err))
	}

	if status != StatusCompleted && def.OnError.NotifyOnError {
		errPayload := map[string]any{
			"execution_id": snap.ID,
			"workflow_id":  snap.WorkflowID,
			"status":       string(status),
		}
		if terr != nil {
			errPayload["error"] = terr.Error()
			errPayload["code"] = string(terr.Code)
		}
		_ = e.bus.Publish(context.Background(), bus.NewMessage(
			bus.TypeWorkflowError, errPayload,
			bus.WithSource("workflow-engine"),
			bus.WithCorrelation(snap.ID),
			bus.WithPriority(types.PriorityHigh),
		))
	}
}

// CancelExecution requests cancellation of an active execution. The run
// notices at its next checkpoint; an in-flight agent call is abandoned,
// not interrupted.
func (e *Engine) CancelExecution(executionID string) bool {
	e.mu.RLock()
	exec, ok := e.active[executionID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	exec.requestCancel()
	e.logger.Info("cancellation requested", zap.String("execution_id", executionID))
	return true
}

// Execution returns a snapshot of an active or completed execution.
func (e *Engine) Execution(executionID string) (ExecutionSnapshot, bool) {
	e.mu.RLock()
	exec, ok := e.active[executionID]
	e.mu.RUnlock()
	if !ok {
		exec, ok = e.completed.get(executionID)
		if !ok {
			return ExecutionSnapshot{}, false
		}
	}
	return exec.Snapshot(), true
}

// ActiveExecutions lists in-flight executions, oldest first.
func (e *Engine) ActiveExecutions() []ExecutionSnapshot {
	e.mu.RLock()
	execs := make([]*Execution, 0, len(e.active))
	for _, exec := range e.active {
		execs = append(execs, exec)
	}
	e.mu.RUnlock()

	sort.Slice(execs, func(i, j int) bool {
		if execs[i].StartedAt.Equal(execs[j].StartedAt) {
			return execs[i].ID < execs[j].ID
		}
		return execs[i].StartedAt.Before(execs[j].StartedAt)
	})

	out := make([]ExecutionSnapshot, len(execs))
	for i, exec := range execs {
		out[i] = exec.Snapshot()
	}
	return out
}

// CompletedExecutions lists terminal executions, oldest first.
func (e *Engine) CompletedExecutions() []ExecutionSnapshot {
	execs := e.completed.list()
	out := make([]ExecutionSnapshot, len(execs))
	for i, exec := range execs {
		out[i] = exec.Snapshot()
	}
	return out
}

// EngineStats summarizes engine activity.
type EngineStats struct {
	ActiveCount      int           `json:"active_count"`
	CompletedCount   int           `json:"completed_count"`
	TotalStarted     int64         `json:"total_started"`
	Succeeded        int64         `json:"succeeded"`
	Failed           int64         `json:"failed"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	SuccessRate      float64       `json:"success_rate"`
}

// Stats returns current counters. SuccessRate is 1 until an execution has
// finished.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	activeCount := len(e.active)
	e.mu.RUnlock()

	succeeded := e.succeeded.Load()
	failed := e.failed.Load()
	stats := EngineStats{
		ActiveCount:    activeCount,
		CompletedCount: e.completed.len(),
		TotalStarted:   e.started.Load(),
		Succeeded:      succeeded,
		Failed:         failed,
		SuccessRate:    1,
	}
	if terminal := succeeded + failed; terminal > 0 {
		stats.AvgExecutionTime = time.Duration(e.totalDurationNS.Load() / terminal)
		stats.SuccessRate = float64(succeeded) / float64(terminal)
	}
	return stats
}

// Close cancels active executions, waits for background runs to settle
// and shuts down whatever the engine owns. It is idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)

		e.mu.RLock()
		for _, exec := range e.active {
			exec.requestCancel()
		}
		e.mu.RUnlock()

		e.wg.Wait()

		if e.ownsBus {
			e.bus.Close()
		}
		if e.ownsRegistry {
			e.registry.Close()
		}
		e.logger.Info("engine closed",
			zap.Int64("total_started", e.started.Load()),
			zap.Int64("succeeded", e.succeeded.Load()),
			zap.Int64("failed", e.failed.Load()))
	})
}

// conditionsHold evaluates every condition of a step against the data bag.
func conditionsHold(step Step, exec *Execution) bool {
	for _, cond := range step.Conditions {
		if !cond.Evaluate(exec.Context.Data) {
			return false
		}
	}
	return true
}

// successorIndex resolves where a successful or skipped step leads.
func successorIndex(def *Definition, step Step, idx int) int {
	if step.OnSuccess != "" {
		return def.stepIndex(step.OnSuccess)
	}
	return idx + 1
}

// asWorkflowError normalizes any failure into a *types.Error.
func asWorkflowError(err error) *types.Error {
	if te, ok := types.AsError(err); ok {
		return te
	}
	return types.WrapError(types.ErrInternal, "step failed", err)
}
