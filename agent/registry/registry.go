package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/certflow/certflow/agent"
	"github.com/certflow/certflow/internal/metrics"
	"github.com/certflow/certflow/types"
)

// Config holds configuration for the capability registry.
type Config struct {
	// HealthCheckTimeout is the per-agent timeout for a health probe.
	HealthCheckTimeout time.Duration `json:"health_check_timeout" yaml:"health_check_timeout"`

	// ShutdownTimeout bounds the asynchronous shutdown hook invoked on
	// unregister.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// UnhealthyThreshold is the number of consecutive probe failures before
	// the monitor marks an agent unhealthy.
	UnhealthyThreshold int `json:"unhealthy_threshold" yaml:"unhealthy_threshold"`

	// MonitorInterval is the interval between background health sweeps.
	// Zero disables the monitor.
	MonitorInterval time.Duration `json:"monitor_interval" yaml:"monitor_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HealthCheckTimeout: 5 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		UnhealthyThreshold: 3,
		MonitorInterval:    0,
	}
}

// entry is the registry's per-agent record.
type entry struct {
	agent        agent.Agent
	slot         int
	registeredAt time.Time

	// load tracking for selection policies and Stats
	inFlight   int64
	processed  int64
	failed     int64
	avgLatency time.Duration

	// health tracking for the monitor
	healthy      bool
	failureCount int
}

// Registry is the in-memory capability registry. All methods are safe for
// concurrent use.
type Registry struct {
	mu sync.RWMutex

	// agents stores registered agents by ID.
	agents map[string]*entry

	// order holds agent IDs in first-registration order. A replaced agent
	// keeps its slot; an unregistered one frees it.
	order []string

	// capabilityIndex indexes agent IDs by capability name.
	capabilityIndex map[string]map[string]struct{}

	policy SelectionPolicy

	handlers  map[string]EventHandler
	handlerMu sync.RWMutex
	handlerID int64

	config  *Config
	logger  *zap.Logger
	metrics *metrics.Collector

	monitorOnce sync.Once
	closeOnce   sync.Once
	done        chan struct{}
	wg          sync.WaitGroup
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithMetrics points the registry at a metrics collector. A nil collector
// is a no-op.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// New creates a capability registry.
func New(config *Config, logger *zap.Logger, opts ...Option) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		agents:          make(map[string]*entry),
		capabilityIndex: make(map[string]map[string]struct{}),
		policy:          NewRegistrationOrderPolicy(),
		handlers:        make(map[string]EventHandler),
		config:          config,
		logger:          logger.With(zap.String("component", "capability_registry")),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSelectionPolicy replaces the policy used by FindBestAgent. Safe to call
// at any time; in-flight selections keep the policy they started with.
func (r *Registry) SetSelectionPolicy(policy SelectionPolicy) {
	if policy == nil {
		return
	}
	r.mu.Lock()
	r.policy = policy
	r.mu.Unlock()
	r.logger.Info("selection policy set", zap.String("policy", policy.Name()))
}

// Register adds an agent. Registering an id that already exists replaces the
// prior registration and logs a warning; the id keeps its original
// registration slot so lookup order stays stable.
func (r *Registry) Register(a agent.Agent) error {
	if a == nil {
		return types.NewValidationError("agent is nil")
	}
	if a.ID() == "" {
		return types.NewValidationError("agent id is empty")
	}

	r.mu.Lock()

	id := a.ID()
	now := time.Now()
	replaced := false

	if old, exists := r.agents[id]; exists {
		replaced = true
		for _, cap := range old.agent.Capabilities() {
			r.removeFromIndex(cap, id)
		}
		old.agent = a
		old.registeredAt = now
		old.healthy = true
		old.failureCount = 0
	} else {
		r.agents[id] = &entry{
			agent:        a,
			slot:         len(r.order),
			registeredAt: now,
			healthy:      true,
		}
		r.order = append(r.order, id)
	}

	for _, cap := range a.Capabilities() {
		r.addToIndex(cap, id)
	}

	caps := a.Capabilities()
	count := len(r.agents)
	r.mu.Unlock()
	r.metrics.SetRegisteredAgents(count)

	if replaced {
		r.logger.Warn("agent already registered, replacing",
			zap.String("agent_id", id),
			zap.String("version", a.Version()),
		)
		r.emitEvent(Event{Type: EventAgentReplaced, AgentID: id, Capabilities: caps, Timestamp: now})
	} else {
		r.logger.Info("agent registered",
			zap.String("agent_id", id),
			zap.String("version", a.Version()),
			zap.Int("capabilities", len(caps)),
		)
		r.emitEvent(Event{Type: EventAgentRegistered, AgentID: id, Capabilities: caps, Timestamp: now})
	}

	return nil
}

// Unregister removes an agent and invokes its shutdown hook asynchronously.
// Shutdown errors are logged, never propagated. Returns false for an unknown
// id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()

	e, exists := r.agents[id]
	if !exists {
		r.mu.Unlock()
		return false
	}

	for _, cap := range e.agent.Capabilities() {
		r.removeFromIndex(cap, id)
	}
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	// Re-number remaining slots so they stay dense.
	for i, oid := range r.order {
		r.agents[oid].slot = i
	}

	a := e.agent
	count := len(r.agents)
	r.mu.Unlock()
	r.metrics.SetRegisteredAgents(count)

	r.logger.Info("agent unregistered", zap.String("agent_id", id))

	if s, ok := a.(agent.Shutdowner); ok {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
			defer cancel()
			if err := s.Shutdown(ctx); err != nil {
				r.logger.Warn("agent shutdown hook failed",
					zap.String("agent_id", id),
					zap.Error(err),
				)
			}
		}()
	}

	r.emitEvent(Event{Type: EventAgentUnregistered, AgentID: id, Timestamp: time.Now()})
	return true
}

// Get retrieves an agent by id.
func (r *Registry) Get(id string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// All returns every registered agent in registration order.
func (r *Registry) All() []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]agent.Agent, 0, len(r.order))
	for _, id := range r.order {
		agents = append(agents, r.agents[id].agent)
	}
	return agents
}

// ByCapability returns the agents advertising the given capability, in
// registration order.
func (r *Registry) ByCapability(name string) []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.capabilityIndex[name]
	if !ok {
		return nil
	}

	agents := make([]agent.Agent, 0, len(ids))
	for _, id := range r.order {
		if _, has := ids[id]; has {
			agents = append(agents, r.agents[id].agent)
		}
	}
	return agents
}

// Capabilities returns the distinct capability names currently registered,
// sorted for stable output.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.capabilityIndex))
	for name := range r.capabilityIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthStatus is the result of one agent's health probe.
type HealthStatus struct {
	AgentID   string        `json:"agent_id"`
	Healthy   bool          `json:"healthy"`
	Err       string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthCheck probes every registered agent concurrently and returns one
// status per agent, in registration order. An agent without a HealthReporter
// is healthy by default. Individual probe failures never fail the call.
func (r *Registry) HealthCheck(ctx context.Context) []HealthStatus {
	r.mu.RLock()
	agents := make([]agent.Agent, 0, len(r.order))
	for _, id := range r.order {
		agents = append(agents, r.agents[id].agent)
	}
	r.mu.RUnlock()

	results := make([]HealthStatus, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range agents {
		i, a := i, a
		g.Go(func() error {
			results[i] = r.probe(gctx, a)
			// Collect every result; a failed probe is a result, not an error.
			return nil
		})
	}
	_ = g.Wait()

	r.recordHealthResults(results)
	return results
}

// probe runs a single agent's health check with the configured timeout.
func (r *Registry) probe(ctx context.Context, a agent.Agent) HealthStatus {
	start := time.Now()
	status := HealthStatus{AgentID: a.ID(), Healthy: true, CheckedAt: start}

	hr, ok := a.(agent.HealthReporter)
	if !ok {
		status.Latency = time.Since(start)
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.config.HealthCheckTimeout)
	defer cancel()

	if err := hr.HealthCheck(probeCtx); err != nil {
		status.Healthy = false
		status.Err = err.Error()
	}
	status.Latency = time.Since(start)
	return status
}

// recordHealthResults folds probe outcomes into per-entry health state and
// emits events on threshold transitions.
func (r *Registry) recordHealthResults(results []HealthStatus) {
	type transition struct {
		id      string
		healthy bool
	}
	var transitions []transition

	r.mu.Lock()
	for _, res := range results {
		e, ok := r.agents[res.AgentID]
		if !ok {
			continue
		}
		if res.Healthy {
			if !e.healthy && e.failureCount >= r.config.UnhealthyThreshold {
				transitions = append(transitions, transition{res.AgentID, true})
			}
			e.failureCount = 0
			e.healthy = true
		} else {
			e.failureCount++
			if e.healthy && e.failureCount >= r.config.UnhealthyThreshold {
				e.healthy = false
				transitions = append(transitions, transition{res.AgentID, false})
			}
		}
	}
	r.mu.Unlock()

	for _, tr := range transitions {
		if tr.healthy {
			r.logger.Info("agent health recovered", zap.String("agent_id", tr.id))
			r.emitEvent(Event{Type: EventAgentRecovered, AgentID: tr.id, Timestamp: time.Now()})
		} else {
			r.logger.Warn("agent marked unhealthy", zap.String("agent_id", tr.id))
			r.emitEvent(Event{Type: EventAgentUnhealthy, AgentID: tr.id, Timestamp: time.Now()})
		}
	}
}

// SelectionCriteria narrows FindBestAgent's choice among candidates.
type SelectionCriteria struct {
	// PreferVersion selects an exact version match when one exists.
	PreferVersion string `json:"prefer_version,omitempty" yaml:"prefer_version,omitempty"`

	// CorrelationID keys sticky selection so related requests land on the
	// same agent.
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
}

// FindBestAgent returns one agent advertising the capability. A PreferVersion
// criteria wins over the policy when an exact version match exists; otherwise
// the configured SelectionPolicy decides. Returns a NoCapableAgent error when
// nothing matches.
func (r *Registry) FindBestAgent(capability string, criteria SelectionCriteria) (agent.Agent, error) {
	r.mu.RLock()
	ids, ok := r.capabilityIndex[capability]
	if !ok || len(ids) == 0 {
		r.mu.RUnlock()
		return nil, types.NewNoCapableAgentError(capability)
	}

	candidates := make([]Candidate, 0, len(ids))
	for _, id := range r.order {
		if _, has := ids[id]; !has {
			continue
		}
		e := r.agents[id]
		candidates = append(candidates, Candidate{
			Agent:      e.agent,
			Slot:       e.slot,
			InFlight:   e.inFlight,
			AvgLatency: e.avgLatency,
		})
	}
	policy := r.policy
	r.mu.RUnlock()

	if criteria.PreferVersion != "" {
		for _, c := range candidates {
			if c.Agent.Version() == criteria.PreferVersion {
				return c.Agent, nil
			}
		}
	}

	selected := policy.Select(capability, candidates, criteria)
	if selected == nil {
		return nil, types.NewNoCapableAgentError(capability)
	}
	return selected, nil
}

// BeginExecution marks an invocation in flight for load-aware selection.
func (r *Registry) BeginExecution(agentID string) {
	r.mu.Lock()
	if e, ok := r.agents[agentID]; ok {
		e.inFlight++
	}
	r.mu.Unlock()
}

// RecordExecution records an invocation outcome: releases the in-flight slot
// and folds the latency into the agent's moving average.
func (r *Registry) RecordExecution(agentID string, latency time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if !ok {
		return
	}
	if e.inFlight > 0 {
		e.inFlight--
	}
	e.processed++
	if !success {
		e.failed++
	}
	if e.processed == 1 {
		e.avgLatency = latency
	} else {
		// Exponential moving average
		const alpha = 0.2
		e.avgLatency = time.Duration(float64(e.avgLatency)*(1-alpha) + float64(latency)*alpha)
	}
}

// AgentStats is a point-in-time view of one registered agent.
type AgentStats struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Capabilities []string      `json:"capabilities"`
	Healthy      bool          `json:"healthy"`
	InFlight     int64         `json:"in_flight"`
	Processed    int64         `json:"processed"`
	Failed       int64         `json:"failed"`
	AvgLatency   time.Duration `json:"avg_latency"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// Stats returns per-agent statistics in registration order.
func (r *Registry) Stats() []AgentStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]AgentStats, 0, len(r.order))
	for _, id := range r.order {
		e := r.agents[id]
		stats = append(stats, AgentStats{
			ID:           id,
			Name:         e.agent.Name(),
			Version:      e.agent.Version(),
			Capabilities: e.agent.Capabilities(),
			Healthy:      e.healthy,
			InFlight:     e.inFlight,
			Processed:    e.processed,
			Failed:       e.failed,
			AvgLatency:   e.avgLatency,
			RegisteredAt: e.registeredAt,
		})
	}
	return stats
}

// StartMonitor launches the background health sweep. A no-op when
// MonitorInterval is zero; safe to call once.
func (r *Registry) StartMonitor(ctx context.Context) {
	if r.config.MonitorInterval <= 0 {
		return
	}
	r.monitorOnce.Do(func() {
		r.wg.Add(1)
		go r.runMonitor(ctx)
		r.logger.Info("health monitor started",
			zap.Duration("interval", r.config.MonitorInterval))
	})
}

func (r *Registry) runMonitor(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.HealthCheck(ctx)
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// Close stops the monitor and waits for in-flight shutdown hooks.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Info("capability registry closed")
	})
}

func (r *Registry) addToIndex(capability, agentID string) {
	if r.capabilityIndex[capability] == nil {
		r.capabilityIndex[capability] = make(map[string]struct{})
	}
	r.capabilityIndex[capability][agentID] = struct{}{}
}

func (r *Registry) removeFromIndex(capability, agentID string) {
	if ids, exists := r.capabilityIndex[capability]; exists {
		delete(ids, agentID)
		if len(ids) == 0 {
			delete(r.capabilityIndex, capability)
		}
	}
}
