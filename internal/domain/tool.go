package domain

import (
	"context"
	"encoding/json"
)

// Sensitivity classifies a tool for the approval gate.
type Sensitivity string

const (
	// SensitivityAuto marks a tool that executes without human approval.
	SensitivityAuto Sensitivity = "auto"
	// SensitivityGated marks a tool whose invocation must be approved
	// by a human before it runs.
	SensitivityGated Sensitivity = "gated"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolRegistry abstracts tool lookup, schema listing and sensitivity
// classification. Implementations are populated once at startup and
// read-only afterwards.
type ToolRegistry interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
	// Sensitivity reports the registered sensitivity for a tool name.
	// Unknown names report SensitivityAuto so their execution surfaces
	// a tool-not-found result to the model instead of stalling a gate.
	Sensitivity(name string) Sensitivity
}
