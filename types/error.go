package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
// Code values are part of the public API: they appear verbatim in structured
// execution results and HTTP responses.
type ErrorCode string

// Routing error codes
const (
	ErrNoCapableAgent    ErrorCode = "NoCapableAgent"
	ErrWorkflowNotFound  ErrorCode = "WorkflowNotFound"
	ErrExecutionNotFound ErrorCode = "ExecutionNotFound"
)

// Execution error codes
const (
	ErrAgentProcessing       ErrorCode = "AgentProcessingError"
	ErrWorkflowTimeout       ErrorCode = "WorkflowTimeout"
	ErrWorkflowCancelled     ErrorCode = "WorkflowCancelled"
	ErrWorkflowCycleDetected ErrorCode = "WorkflowCycleDetected"
	ErrStepTimeout           ErrorCode = "StepTimeout"
)

// Bus error codes
const (
	ErrDelivery       ErrorCode = "DeliveryError"
	ErrBusClosed      ErrorCode = "BusClosed"
	ErrRequestTimeout ErrorCode = "RequestTimeout"
)

// General error codes
const (
	ErrValidation     ErrorCode = "ValidationError"
	ErrAgentUnhealthy ErrorCode = "AgentUnhealthy"
	ErrRateLimited    ErrorCode = "RateLimited"
	ErrInternal       ErrorCode = "InternalError"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetail attaches a key/value detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WrapError wraps err into a structured Error with the given code. If err is
// already a *Error it is returned unchanged so the original code survives.
func WrapError(code ErrorCode, message string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewNoCapableAgentError creates an error for a capability with no registered agent.
func NewNoCapableAgentError(capability string) *Error {
	return NewError(ErrNoCapableAgent, fmt.Sprintf("no capable agent for capability %q", capability)).
		WithDetail("capability", capability)
}

// NewWorkflowNotFoundError creates an error for an unknown workflow id.
func NewWorkflowNotFoundError(workflowID string) *Error {
	return NewError(ErrWorkflowNotFound, fmt.Sprintf("workflow %q is not registered", workflowID)).
		WithDetail("workflow_id", workflowID)
}

// NewAgentProcessingError creates an error for a failed agent invocation.
func NewAgentProcessingError(agentID string, cause error) *Error {
	return NewError(ErrAgentProcessing, fmt.Sprintf("agent %q failed to process step input", agentID)).
		WithDetail("agent_id", agentID).
		WithRetryable(true).
		WithCause(cause)
}

// NewWorkflowTimeoutError creates an error for an execution exceeding its deadline.
func NewWorkflowTimeoutError(workflowID string, timeout fmt.Stringer) *Error {
	return NewError(ErrWorkflowTimeout, fmt.Sprintf("workflow %q exceeded its timeout of %s", workflowID, timeout)).
		WithDetail("workflow_id", workflowID)
}

// NewWorkflowCycleError creates an error for an execution exceeding its step-visit ceiling.
func NewWorkflowCycleError(workflowID string, visits, ceiling int) *Error {
	return NewError(ErrWorkflowCycleDetected,
		fmt.Sprintf("workflow %q visited %d steps, exceeding the ceiling of %d", workflowID, visits, ceiling)).
		WithDetail("workflow_id", workflowID).
		WithDetail("visits", visits).
		WithDetail("ceiling", ceiling)
}

// NewValidationError creates an error for malformed definitions or conditions.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message)
}

// NewDeliveryError creates an error for a failed subscriber delivery.
func NewDeliveryError(subscriptionID string, cause error) *Error {
	return NewError(ErrDelivery, fmt.Sprintf("delivery to subscription %q failed", subscriptionID)).
		WithDetail("subscription_id", subscriptionID).
		WithCause(cause)
}
