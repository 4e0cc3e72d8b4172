package domain

import (
	"context"
	"encoding/json"
)

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "deepseek").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
// Err reports a transport failure that cut the stream short; consumers must
// treat the accumulated message as incomplete when it is set.
type StreamDelta struct {
	Content   string          `json:"content,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	Done      bool            `json:"done,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Err       error           `json:"-"`
}

// ToolCallDelta is a streamed fragment of one tool call. Index is the
// call's position within the assistant message; fragments of the same
// call share an index across chunks, so accumulation keys on it rather
// than on array position.
type ToolCallDelta struct {
	Index     int             `json:"index"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// TokenCounter estimates the token footprint of messages for history
// windowing.
type TokenCounter interface {
	Count(text string) int
	CountMessages(messages []Message) int
}
