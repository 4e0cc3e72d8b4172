package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in a conversation thread.
// Messages are append-only: once added to a thread they are never
// mutated or removed.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewToolResultMessage builds a role=tool message carrying the output of a
// single tool call, correlated by the originating call's id.
func NewToolResultMessage(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Name:       call.Name,
		Content:    content,
		ToolCallID: call.ID,
		Timestamp:  time.Now(),
	}
}
