package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certflow/certflow/types"
)

// Status is the lifecycle state of an execution. Pending and running are
// transient; the other three are terminal and mutually exclusive.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepError is one failure recorded during an execution.
type StepError struct {
	Step      string    `json:"step"`
	Err       string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// StepTrace records one step visit, including skips.
type StepTrace struct {
	StepID    string        `json:"step_id"`
	AgentID   string        `json:"agent_id,omitempty"`
	Attempts  int           `json:"attempts"`
	Skipped   bool          `json:"skipped,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"error,omitempty"`
}

// ExecutionContext is the mutable state a single execution accumulates:
// the data bag seeded from the caller's input, per-step results, recorded
// errors and retry counters.
type ExecutionContext struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	CurrentStep string         `json:"current_step,omitempty"`
	Data        map[string]any `json:"data"`
	Results     map[string]any `json:"results"`
	StartTime   time.Time      `json:"start_time"`
	Errors      []StepError    `json:"errors,omitempty"`
	RetryCount  map[string]int `json:"retry_count,omitempty"`
}

// DataSnapshot returns a copy of the data bag. Nested maps and slices are
// copied too, so agents receiving it cannot reach engine state.
func (ec *ExecutionContext) DataSnapshot() map[string]any {
	out, _ := copyValue(ec.Data).(map[string]any)
	return out
}

// Result returns a recorded step output.
func (ec *ExecutionContext) Result(stepID string) (any, bool) {
	v, ok := ec.Results[stepID]
	return v, ok
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// Execution is one run of a workflow definition. The engine mutates it
// from the execution's own goroutine; concurrent readers go through
// Snapshot.
type Execution struct {
	mu sync.RWMutex

	ID               string
	WorkflowID       string
	Status           Status
	Context          *ExecutionContext
	CurrentStepIndex int
	Progress         int
	StartedAt        time.Time
	EndedAt          time.Time
	Err              *types.Error
	Traces           []StepTrace

	visits          int
	strategyRetries map[string]int
	cancelCh        chan struct{}
	cancelOnce      sync.Once
}

func newExecution(workflowID string, input map[string]any) *Execution {
	id := "exec-" + uuid.New().String()
	data, _ := copyValue(input).(map[string]any)
	if data == nil {
		data = make(map[string]any)
	}
	now := time.Now()
	return &Execution{
		ID:         id,
		WorkflowID: workflowID,
		Status:     StatusPending,
		Context: &ExecutionContext{
			WorkflowID:  workflowID,
			ExecutionID: id,
			Data:        data,
			Results:     make(map[string]any),
			StartTime:   now,
			RetryCount:  make(map[string]int),
		},
		StartedAt:       now,
		strategyRetries: make(map[string]int),
		cancelCh:        make(chan struct{}),
	}
}

// ExecutionSnapshot is a read-only copy of an execution, safe to hold and
// serialize while the run continues.
type ExecutionSnapshot struct {
	ID               string         `json:"id"`
	WorkflowID       string         `json:"workflow_id"`
	Status           Status         `json:"status"`
	CurrentStep      string         `json:"current_step,omitempty"`
	CurrentStepIndex int            `json:"current_step_index"`
	Progress         int            `json:"progress"`
	Data             map[string]any `json:"data,omitempty"`
	Results          map[string]any `json:"results,omitempty"`
	Errors           []StepError    `json:"errors,omitempty"`
	RetryCounts      map[string]int `json:"retry_counts,omitempty"`
	Traces           []StepTrace    `json:"traces,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          time.Time      `json:"ended_at"`
	Duration         time.Duration  `json:"duration"`
	Error            *types.Error   `json:"error,omitempty"`
}

// Snapshot copies the execution under its lock.
func (e *Execution) Snapshot() ExecutionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := ExecutionSnapshot{
		ID:               e.ID,
		WorkflowID:       e.WorkflowID,
		Status:           e.Status,
		CurrentStep:      e.Context.CurrentStep,
		CurrentStepIndex: e.CurrentStepIndex,
		Progress:         e.Progress,
		StartedAt:        e.StartedAt,
		EndedAt:          e.EndedAt,
		Error:            e.Err,
	}
	snap.Data, _ = copyValue(e.Context.Data).(map[string]any)
	snap.Results, _ = copyValue(e.Context.Results).(map[string]any)
	if len(e.Context.Errors) > 0 {
		snap.Errors = make([]StepError, len(e.Context.Errors))
		copy(snap.Errors, e.Context.Errors)
	}
	if len(e.Context.RetryCount) > 0 {
		snap.RetryCounts = make(map[string]int, len(e.Context.RetryCount))
		for k, v := range e.Context.RetryCount {
			snap.RetryCounts[k] = v
		}
	}
	if len(e.Traces) > 0 {
		snap.Traces = make([]StepTrace, len(e.Traces))
		copy(snap.Traces, e.Traces)
	}
	if !e.EndedAt.IsZero() {
		snap.Duration = e.EndedAt.Sub(e.StartedAt)
	} else {
		snap.Duration = time.Since(e.StartedAt)
	}
	return snap
}

// CurrentStatus reads the status under the lock.
func (e *Execution) CurrentStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Status
}

// seal moves the execution to a terminal status exactly once. Later calls,
// including a straggling agent result arriving after cancellation, return
// false and change nothing.
func (e *Execution) seal(status Status, err *types.Error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status.Terminal() {
		return false
	}
	e.Status = status
	e.Err = err
	e.EndedAt = time.Now()
	e.Progress = 100
	return true
}

// cancelSignal closes once when the execution is cancelled so waits can
// unblock.
func (e *Execution) cancelSignal() <-chan struct{} {
	return e.cancelCh
}

func (e *Execution) requestCancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

// beginStep records arrival at a step and returns this execution's total
// visit count for the cycle ceiling.
func (e *Execution) beginStep(stepID string, index, totalSteps int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status == StatusPending {
		e.Status = StatusRunning
	}
	e.Context.CurrentStep = stepID
	e.CurrentStepIndex = index
	e.visits++
	if totalSteps > 0 {
		e.Progress = e.visits * 100 / totalSteps
		if e.Progress > 100 {
			e.Progress = 100
		}
	}
	return e.visits
}

// recordSuccess stores a step result. The output lands in the results map
// and in the data bag under the step id; map outputs are merged into the
// top level as well so later conditions can reference their fields
// directly.
func (e *Execution) recordSuccess(stepID string, output any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Context.Results[stepID] = output
	e.Context.Data[stepID] = output
	if m, ok := output.(map[string]any); ok {
		for k, v := range m {
			e.Context.Data[k] = v
		}
	}
}

func (e *Execution) recordError(stepID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Context.Errors = append(e.Context.Errors, StepError{
		Step:      stepID,
		Err:       err.Error(),
		Timestamp: time.Now(),
	})
}

func (e *Execution) setRetryCount(stepID string, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Context.RetryCount[stepID] = attempts
}

func (e *Execution) recordTrace(t StepTrace) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Traces = append(e.Traces, t)
}

// bumpStrategyRetry counts one strategy-level re-run of a step and returns
// the cycles used so far, the step's own retry policy not included.
func (e *Execution) bumpStrategyRetry(stepID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategyRetries[stepID]++
	return e.strategyRetries[stepID]
}

func (e *Execution) strategyRetryCount(stepID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategyRetries[stepID]
}

// completedStore keeps terminal executions, evicting the oldest entry once
// over capacity.
type completedStore struct {
	mu       sync.RWMutex
	capacity int
	byID     map[string]*Execution
	order    []string
}

func newCompletedStore(capacity int) *completedStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &completedStore{
		capacity: capacity,
		byID:     make(map[string]*Execution, capacity),
	}
}

func (s *completedStore) add(e *Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return
	}
	s.byID[e.ID] = e
	s.order = append(s.order, e.ID)
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
}

func (s *completedStore) get(id string) (*Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// list returns completed executions oldest first.
func (s *completedStore) list() []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Execution, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *completedStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
