package domain

import (
	"context"
	"time"
)

// PendingApproval records a gated tool call awaiting a human decision.
// The paused loop is fully reconstructible from this value plus the
// thread's message log; no in-memory state survives it.
type PendingApproval struct {
	ToolCall    ToolCall  `json:"tool_call"`
	RequestedAt time.Time `json:"requested_at"`
}

// Thread is one persistent conversation: an ordered, append-only message
// log plus an optional paused-approval marker.
//
// Invariant: when Pending is non-nil, the last message is an assistant
// message whose first tool call is Pending.ToolCall, and the loop may not
// call the model again until the pending call is resolved.
type Thread struct {
	ID        string           `json:"id"`
	Messages  []Message        `json:"messages"`
	Pending   *PendingApproval `json:"pending,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewThread creates an empty thread.
func NewThread(id string) *Thread {
	now := time.Now()
	return &Thread{
		ID:        id,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the log, stamping missing timestamps.
func (t *Thread) Append(msgs ...Message) {
	now := time.Now()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		t.Messages = append(t.Messages, m)
	}
	t.UpdatedAt = now
}

// LastAssistant returns the last assistant message, or nil if none exists.
func (t *Thread) LastAssistant() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleAssistant {
			return &t.Messages[i]
		}
	}
	return nil
}

// HasToolResult reports whether the log contains a tool result for the
// given tool call id.
func (t *Thread) HasToolResult(callID string) bool {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleTool && t.Messages[i].ToolCallID == callID {
			return true
		}
	}
	return false
}

// ThreadStore persists threads keyed by id. Save must be atomic: a
// concurrent reader observes either the previous or the new thread state,
// never a partial write. Implementations need not serialize Save calls
// for the same id; callers hold a per-thread lock.
type ThreadStore interface {
	// Load retrieves a thread. Returns ErrThreadNotFound if the id has
	// never been saved.
	Load(ctx context.Context, id string) (*Thread, error)
	// Save persists the full thread state.
	Save(ctx context.Context, t *Thread) error
}
