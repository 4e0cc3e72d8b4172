package usecase

import "nimbus/internal/domain"

// AgentEventType identifies what a streamed agent event carries.
type AgentEventType string

const (
	// AgentEventDelta carries an incremental chunk of assistant content.
	AgentEventDelta AgentEventType = "delta"
	// AgentEventReasoning carries an incremental chunk of model reasoning.
	AgentEventReasoning AgentEventType = "reasoning"
	// AgentEventToolStarted signals a tool call is about to run.
	AgentEventToolStarted AgentEventType = "tool_started"
	// AgentEventToolFinished signals a tool call completed.
	AgentEventToolFinished AgentEventType = "tool_finished"
	// AgentEventDecisionRequired signals the turn paused on a gated tool.
	// The stream ends after this event; the caller must resolve the
	// decision to continue the thread.
	AgentEventDecisionRequired AgentEventType = "decision_required"
	// AgentEventFinished carries the final assistant content for the
	// turn along with the updated thread history.
	AgentEventFinished AgentEventType = "finished"
	// AgentEventError signals the turn failed. The stream ends after it.
	AgentEventError AgentEventType = "error"
)

// AgentEvent is one element of the event stream returned by Submit and
// ResolveDecision. Exactly one terminal event (decision_required,
// finished, or error) ends every stream.
type AgentEvent struct {
	Type     AgentEventType
	Content  string
	ToolCall *domain.ToolCall
	ToolName string
	Usage    *domain.Usage
	Messages []domain.Message // set on finished: the turn's full history
	Err      error
}
