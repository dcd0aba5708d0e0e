// MockAgent is a scripted test double for the agent contract.
//
// Supports fixed outputs, failure injection, call counting, and slow
// processing for timeout scenarios.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/certflow/certflow/agent"
)

// MockAgent implements agent.Agent plus the optional health, shutdown and
// metrics interfaces. The zero value echoes its input; fields configure
// failure and delay behaviour.
type MockAgent struct {
	IDVal      string
	NameVal    string
	VersionVal string
	Caps       []string

	// Output is returned from Process when ProcessFunc is nil. A nil
	// Output echoes the input.
	Output any

	// ProcessFunc overrides the scripted behaviour entirely.
	ProcessFunc func(ctx context.Context, input any) (any, error)

	// FailTimes makes the first N calls fail before succeeding.
	// AlwaysFail makes every call fail.
	FailTimes  int32
	AlwaysFail bool

	// Delay makes Process sleep before returning, honoring ctx.
	Delay time.Duration

	// HealthErr is returned from HealthCheck; ShutdownErr from Shutdown.
	HealthErr   error
	ShutdownErr error

	calls         atomic.Int32
	healthCalls   atomic.Int32
	shutdownCalls atomic.Int32
}

// NewMockAgent creates a mock agent with the given id and capabilities.
func NewMockAgent(id string, capabilities ...string) *MockAgent {
	return &MockAgent{
		IDVal:      id,
		NameVal:    id,
		VersionVal: "1.0.0",
		Caps:       capabilities,
	}
}

// WithVersion sets the reported version.
func (m *MockAgent) WithVersion(v string) *MockAgent {
	m.VersionVal = v
	return m
}

// WithOutput sets the fixed Process output.
func (m *MockAgent) WithOutput(out any) *MockAgent {
	m.Output = out
	return m
}

// WithFailTimes makes the first n Process calls fail.
func (m *MockAgent) WithFailTimes(n int32) *MockAgent {
	m.FailTimes = n
	return m
}

// WithDelay makes Process sleep for d, honoring ctx cancellation.
func (m *MockAgent) WithDelay(d time.Duration) *MockAgent {
	m.Delay = d
	return m
}

func (m *MockAgent) ID() string      { return m.IDVal }
func (m *MockAgent) Name() string    { return m.NameVal }
func (m *MockAgent) Version() string { return m.VersionVal }

func (m *MockAgent) Capabilities() []string {
	caps := make([]string, len(m.Caps))
	copy(caps, m.Caps)
	return caps
}

// Process runs the scripted behaviour and counts the call.
func (m *MockAgent) Process(ctx context.Context, input any) (any, error) {
	n := m.calls.Add(1)

	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, input)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.AlwaysFail {
		return nil, fmt.Errorf("mock agent %s: scripted failure on call %d", m.IDVal, n)
	}
	if n <= m.FailTimes {
		return nil, fmt.Errorf("mock agent %s: scripted failure %d of %d", m.IDVal, n, m.FailTimes)
	}

	if m.Output != nil {
		return m.Output, nil
	}
	return input, nil
}

// HealthCheck returns the configured health error.
func (m *MockAgent) HealthCheck(ctx context.Context) error {
	m.healthCalls.Add(1)
	return m.HealthErr
}

// Shutdown returns the configured shutdown error.
func (m *MockAgent) Shutdown(ctx context.Context) error {
	m.shutdownCalls.Add(1)
	return m.ShutdownErr
}

// Metrics reports counts derived from the scripted calls.
func (m *MockAgent) Metrics() agent.Metrics {
	calls := int64(m.calls.Load())
	return agent.Metrics{Processed: calls, SuccessRate: 1}
}

// Calls returns how many times Process ran.
func (m *MockAgent) Calls() int32 { return m.calls.Load() }

// HealthCalls returns how many times HealthCheck ran.
func (m *MockAgent) HealthCalls() int32 { return m.healthCalls.Load() }

// ShutdownCalls returns how many times Shutdown ran.
func (m *MockAgent) ShutdownCalls() int32 { return m.shutdownCalls.Load() }

// ErrScripted is a sentinel injectable through HealthErr and ShutdownErr.
var ErrScripted = errors.New("scripted error")

var (
	_ agent.Agent           = (*MockAgent)(nil)
	_ agent.HealthReporter  = (*MockAgent)(nil)
	_ agent.Shutdowner      = (*MockAgent)(nil)
	_ agent.MetricsReporter = (*MockAgent)(nil)
)
