package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived   EventType = "message.received"
	EventLLMCallStarted    EventType = "llm.call.started"
	EventLLMCallCompleted  EventType = "llm.call.completed"
	EventToolCallStarted   EventType = "tool.call.started"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventDecisionRequired  EventType = "decision.required"
	EventDecisionResolved  EventType = "decision.resolved"
	EventStreamDelta       EventType = "stream.delta"
	EventStreamCompleted   EventType = "stream.completed"
	EventStreamError       EventType = "stream.error"
	EventThreadCreated     EventType = "thread.created"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
