package usecase

import "nimbus/internal/domain"

// Route is the routing decision for an assistant message.
type Route int

const (
	// RouteRespond means the message is a plain response; the turn is done.
	RouteRespond Route = iota
	// RouteAutoExecute means the message's tool calls run immediately.
	RouteAutoExecute
	// RouteGatedExecute means the first tool call needs caller approval
	// before anything in the batch runs.
	RouteGatedExecute
)

func (r Route) String() string {
	switch r {
	case RouteRespond:
		return "respond"
	case RouteAutoExecute:
		return "auto_execute"
	case RouteGatedExecute:
		return "gated_execute"
	default:
		return "unknown"
	}
}

// Decide routes an assistant message. It is pure: the same message and
// registry always produce the same route. Only the first tool call's
// sensitivity is consulted; a batch whose first call is gated is held
// back as a whole. Unknown tool names route to auto execution so the
// lookup failure surfaces as a tool result the model can react to,
// rather than stalling the thread on an unanswerable approval.
func Decide(msg domain.Message, reg domain.ToolRegistry) Route {
	if len(msg.ToolCalls) == 0 {
		return RouteRespond
	}
	if reg.Sensitivity(msg.ToolCalls[0].Name) == domain.SensitivityGated {
		return RouteGatedExecute
	}
	return RouteAutoExecute
}
