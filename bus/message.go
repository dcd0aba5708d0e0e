package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/certflow/certflow/types"
)

// System message types the bus emits about its own activity. Handlers can
// subscribe to them like any other type; they are excluded from history.
const (
	TypeMessagePublished = "message-published"
	TypeMessageDelivered = "message-delivered"
	TypeDeliveryError    = "delivery-error"
)

// Message types published by the workflow engine. These are ordinary
// messages and are recorded in history: workflow-completed on every
// terminal execution, workflow-error additionally when a definition asks
// to be notified about failures.
const (
	TypeWorkflowCompleted = "workflow-completed"
	TypeWorkflowError     = "workflow-error"
)

// Metadata carries the routing envelope of a message.
type Metadata struct {
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source,omitempty"`
	Target        string         `json:"target,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Priority      types.Priority `json:"priority,omitempty"`
}

// Message is the unit of communication on the bus. Payload is opaque to the
// bus; routing decisions use Type and Metadata only.
type Message struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Payload any      `json:"payload,omitempty"`
	Meta    Metadata `json:"meta"`
}

// MessageOption mutates a message under construction.
type MessageOption func(*Message)

// WithSource sets the logical sender id.
func WithSource(source string) MessageOption {
	return func(m *Message) { m.Meta.Source = source }
}

// WithTarget addresses the message to a specific subscriber id. Messages
// without a target are broadcast to every matching subscription.
func WithTarget(target string) MessageOption {
	return func(m *Message) { m.Meta.Target = target }
}

// WithCorrelation tags the message with a correlation id so a later
// response can be matched to it.
func WithCorrelation(id string) MessageOption {
	return func(m *Message) { m.Meta.CorrelationID = id }
}

// WithPriority overrides the default normal priority.
func WithPriority(p types.Priority) MessageOption {
	return func(m *Message) { m.Meta.Priority = p }
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(msgType string, payload any, opts ...MessageOption) Message {
	m := Message{
		ID:      uuid.New().String(),
		Type:    msgType,
		Payload: payload,
		Meta: Metadata{
			Timestamp: time.Now(),
			Priority:  types.PriorityNormal,
		},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Reply builds a response to req: it carries the request's correlation id
// and is targeted back at the request's source. The reply type must differ
// from the request type or Request callers would match their own message.
func Reply(req Message, msgType string, payload any, opts ...MessageOption) Message {
	base := []MessageOption{
		WithTarget(req.Meta.Source),
		WithCorrelation(req.Meta.CorrelationID),
	}
	return NewMessage(msgType, payload, append(base, opts...)...)
}

// isSystem reports whether the type is one of the bus's own lifecycle
// signals, which must not trigger further lifecycle signals.
func isSystem(msgType string) bool {
	switch msgType {
	case TypeMessagePublished, TypeMessageDelivered, TypeDeliveryError:
		return true
	}
	return false
}
