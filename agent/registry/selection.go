package registry

import (
	"sync"
	"time"

	"github.com/certflow/certflow/agent"
	"github.com/certflow/certflow/types"
)

// Candidate is one agent eligible for selection, with the load view the
// registry tracked at lookup time.
type Candidate struct {
	Agent      agent.Agent
	Slot       int
	InFlight   int64
	AvgLatency time.Duration
}

// SelectionPolicy picks one agent among the candidates for a capability.
// Candidates arrive in registration order and are never empty.
type SelectionPolicy interface {
	// Name returns the policy's configuration name.
	Name() string
	// Select returns the chosen agent, or nil to signal no viable choice.
	Select(capability string, candidates []Candidate, criteria SelectionCriteria) agent.Agent
}

// Policy configuration names.
const (
	PolicyRegistrationOrder = "registration-order"
	PolicyRoundRobin        = "round-robin"
	PolicyLeastBusy         = "least-busy"
	PolicySticky            = "sticky"
)

// NewPolicy builds a selection policy by its configuration name.
func NewPolicy(name string) (SelectionPolicy, error) {
	switch name {
	case "", PolicyRegistrationOrder:
		return NewRegistrationOrderPolicy(), nil
	case PolicyRoundRobin:
		return NewRoundRobinPolicy(), nil
	case PolicyLeastBusy:
		return NewLeastBusyPolicy(), nil
	case PolicySticky:
		return NewStickyPolicy(), nil
	default:
		return nil, types.NewValidationError("unknown selection policy " + name)
	}
}

// registrationOrderPolicy picks the first registered candidate. This is the
// default: deterministic, not load- or latency-aware.
type registrationOrderPolicy struct{}

// NewRegistrationOrderPolicy returns the default first-registered policy.
func NewRegistrationOrderPolicy() SelectionPolicy { return registrationOrderPolicy{} }

func (registrationOrderPolicy) Name() string { return PolicyRegistrationOrder }

func (registrationOrderPolicy) Select(_ string, candidates []Candidate, _ SelectionCriteria) agent.Agent {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0].Agent
}

// roundRobinPolicy rotates per capability across candidates.
type roundRobinPolicy struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewRoundRobinPolicy returns a policy that rotates through candidates per
// capability.
func NewRoundRobinPolicy() SelectionPolicy {
	return &roundRobinPolicy{counters: make(map[string]uint64)}
}

func (p *roundRobinPolicy) Name() string { return PolicyRoundRobin }

func (p *roundRobinPolicy) Select(capability string, candidates []Candidate, _ SelectionCriteria) agent.Agent {
	if len(candidates) == 0 {
		return nil
	}

	p.mu.Lock()
	n := p.counters[capability]
	p.counters[capability] = n + 1
	p.mu.Unlock()

	return candidates[n%uint64(len(candidates))].Agent
}

// leastBusyPolicy picks the candidate with the fewest in-flight invocations,
// breaking ties by registration order.
type leastBusyPolicy struct{}

// NewLeastBusyPolicy returns a policy that prefers the least loaded agent.
func NewLeastBusyPolicy() SelectionPolicy { return leastBusyPolicy{} }

func (leastBusyPolicy) Name() string { return PolicyLeastBusy }

func (leastBusyPolicy) Select(_ string, candidates []Candidate, _ SelectionCriteria) agent.Agent {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.InFlight < best.InFlight {
			best = c
		}
	}
	return best.Agent
}

// stickyPolicy binds a correlation id to the agent that first served it, so
// related requests land on the same worker. Bindings are advisory: when the
// bound agent is gone the policy rebinds, and when no correlation id is given
// it falls back to registration order.
type stickyPolicy struct {
	mu       sync.Mutex
	bindings map[string]string

	// maxBindings caps memory; exceeding it drops the table, which only
	// costs a rebind on the next request.
	maxBindings int
}

// NewStickyPolicy returns a policy that pins correlation ids to agents.
func NewStickyPolicy() SelectionPolicy {
	return &stickyPolicy{
		bindings:    make(map[string]string),
		maxBindings: 4096,
	}
}

func (p *stickyPolicy) Name() string { return PolicySticky }

func (p *stickyPolicy) Select(_ string, candidates []Candidate, criteria SelectionCriteria) agent.Agent {
	if len(candidates) == 0 {
		return nil
	}
	if criteria.CorrelationID == "" {
		return candidates[0].Agent
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if boundID, ok := p.bindings[criteria.CorrelationID]; ok {
		for _, c := range candidates {
			if c.Agent.ID() == boundID {
				return c.Agent
			}
		}
	}

	if len(p.bindings) >= p.maxBindings {
		p.bindings = make(map[string]string)
	}
	chosen := candidates[0].Agent
	p.bindings[criteria.CorrelationID] = chosen.ID()
	return chosen
}
