package registry

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a registry lifecycle event.
type EventType string

const (
	EventAgentRegistered   EventType = "agent-registered"
	EventAgentReplaced     EventType = "agent-replaced"
	EventAgentUnregistered EventType = "agent-unregistered"
	EventAgentUnhealthy    EventType = "agent-unhealthy"
	EventAgentRecovered    EventType = "agent-recovered"
)

// Event describes a change in the registered agent set.
type Event struct {
	Type         EventType `json:"type"`
	AgentID      string    `json:"agent_id"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventHandler receives registry events. Handlers run on their own
// goroutines; a panic is recovered and logged.
type EventHandler func(Event)

// Subscribe registers an event handler and returns its subscription id.
func (r *Registry) Subscribe(handler EventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	id := fmt.Sprintf("sub-%d", atomic.AddInt64(&r.handlerID, 1))
	r.handlers[id] = handler
	return id
}

// Unsubscribe removes an event handler.
func (r *Registry) Unsubscribe(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	delete(r.handlers, subscriptionID)
}

// emitEvent dispatches an event to all subscribers on separate goroutines.
func (r *Registry) emitEvent(event Event) {
	r.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		h := handler
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("registry event handler panicked",
						zap.String("event_type", string(event.Type)),
						zap.Any("panic", rec),
					)
				}
			}()
			h(event)
		}()
	}
}
