package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"nimbus/internal/domain"
	"nimbus/internal/infra/tracer"
)

// Recovery loop constants.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// deniedMessage is the tool result recorded for a denied gated call.
const deniedMessage = "operation denied by administrator"

const eventBuffer = 64

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM           domain.LLMProvider
	Store         domain.ThreadStore
	Registry      domain.ToolRegistry
	Executor      *ToolExecutor
	History       *HistoryBuilder
	Locker        *ThreadLocker
	Logger        *slog.Logger
	Bus           domain.EventBus // optional, nil = no events
	MaxIterations int
	Timeout       time.Duration // per-turn bound, 0 = none
}

// Agent orchestrates the receive-think-act loop over durable threads.
// A turn either completes with a final response, pauses on a gated tool
// call awaiting a decision, or fails. Thread state is persisted at every
// boundary so a paused or finished thread survives a restart.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	if deps.Locker == nil {
		deps.Locker = NewThreadLocker()
	}
	return &Agent{deps: deps}
}

// Submit starts a turn for the given thread with a new user message and
// returns the turn's event stream. A missing thread is created. Protocol
// misuse is reported synchronously: ErrInvalidInput for empty input,
// ErrConcurrentSubmission when the thread is already mid-turn, and
// ErrDecisionPending when an approval is still unresolved. The returned
// channel is closed after exactly one terminal event.
func (a *Agent) Submit(ctx context.Context, threadID, text string) (<-chan AgentEvent, error) {
	const op = "Agent.Submit"

	if threadID == "" || strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "thread id and text must not be empty")
	}

	unlock, err := a.deps.Locker.TryLock(threadID)
	if err != nil {
		return nil, err
	}

	thread, err := a.deps.Store.Load(ctx, threadID)
	if err != nil {
		if !errors.Is(err, domain.ErrThreadNotFound) {
			unlock()
			return nil, domain.WrapOp(op, err)
		}
		thread = domain.NewThread(threadID)
		a.publishEvent(ctx, domain.EventThreadCreated, threadID, nil)
	}

	if thread.Pending != nil {
		unlock()
		return nil, domain.NewDomainError(op, domain.ErrDecisionPending, threadID)
	}

	thread.Append(domain.Message{
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	a.publishEvent(ctx, domain.EventMessageReceived, threadID, nil)

	events := make(chan AgentEvent, eventBuffer)
	go func() {
		defer unlock()
		defer close(events)
		a.runTurn(ctx, thread, events)
	}()
	return events, nil
}

// ResolveDecision resolves the pending approval on a thread and resumes
// the turn, returning the resumed turn's event stream. Approval executes
// the held batch; denial records a refusal result for the gated call
// without ever invoking it, and the deferred rest of the batch still
// executes. Either way the model sees the outcome and the loop continues.
func (a *Agent) ResolveDecision(ctx context.Context, threadID string, approve bool) (<-chan AgentEvent, error) {
	const op = "Agent.ResolveDecision"

	if threadID == "" {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "thread id must not be empty")
	}

	unlock, err := a.deps.Locker.TryLock(threadID)
	if err != nil {
		return nil, err
	}

	thread, err := a.deps.Store.Load(ctx, threadID)
	if err != nil {
		unlock()
		if errors.Is(err, domain.ErrThreadNotFound) {
			return nil, domain.NewDomainError(op, domain.ErrNoPendingDecision, threadID)
		}
		return nil, domain.WrapOp(op, err)
	}

	if thread.Pending == nil {
		unlock()
		return nil, a.classifyResolveError(op, thread)
	}

	pending := thread.Pending.ToolCall
	thread.Pending = nil

	a.publishEvent(ctx, domain.EventDecisionResolved, threadID, map[string]any{
		"tool":     pending.Name,
		"approved": approve,
	})

	events := make(chan AgentEvent, eventBuffer)
	go func() {
		defer unlock()
		defer close(events)
		a.resumeTurn(ctx, thread, pending, approve, events)
	}()
	return events, nil
}

// classifyResolveError distinguishes a decision that was already resolved
// from one that never existed. If the last assistant message's first call
// is gated and already carries a tool result, the decision was resolved.
func (a *Agent) classifyResolveError(op string, thread *domain.Thread) error {
	last := thread.LastAssistant()
	if last != nil && len(last.ToolCalls) > 0 {
		first := last.ToolCalls[0]
		if a.deps.Registry.Sensitivity(first.Name) == domain.SensitivityGated &&
			thread.HasToolResult(first.ID) {
			return domain.NewDomainError(op, domain.ErrDuplicateDecision, thread.ID)
		}
	}
	return domain.NewDomainError(op, domain.ErrNoPendingDecision, thread.ID)
}

// resumeTurn applies the decision outcome to the held batch, persists it,
// and re-enters the agent loop so the model can react.
func (a *Agent) resumeTurn(ctx context.Context, thread *domain.Thread, pending domain.ToolCall, approve bool, events chan<- AgentEvent) {
	ctx, cancel := a.turnContext(ctx)
	defer cancel()
	ctx = domain.ContextWithThreadID(ctx, thread.ID)

	batch := a.heldBatch(thread, pending)

	var results []domain.Message
	if approve {
		var err error
		for _, call := range batch {
			events <- AgentEvent{Type: AgentEventToolStarted, ToolName: call.Name}
		}
		results, err = a.deps.Executor.ExecuteBatch(ctx, batch)
		if err != nil {
			a.failTurn(ctx, thread.ID, events, err)
			return
		}
		for _, call := range batch {
			events <- AgentEvent{Type: AgentEventToolFinished, ToolName: call.Name}
		}
	} else {
		a.deps.Logger.Info("gated tool denied", "thread", thread.ID, "tool", pending.Name)
		results = []domain.Message{domain.NewToolResultMessage(batch[0], deniedMessage)}

		// The denial applies to the gated call only; the rest of the
		// batch was merely deferred behind the gate and still runs.
		if rest := batch[1:]; len(rest) > 0 {
			for _, call := range rest {
				events <- AgentEvent{Type: AgentEventToolStarted, ToolName: call.Name}
			}
			restResults, err := a.deps.Executor.ExecuteBatch(ctx, rest)
			if err != nil {
				a.failTurn(ctx, thread.ID, events, err)
				return
			}
			for _, call := range rest {
				events <- AgentEvent{Type: AgentEventToolFinished, ToolName: call.Name}
			}
			results = append(results, restResults...)
		}
	}

	thread.Append(results...)
	if err := a.deps.Store.Save(ctx, thread); err != nil {
		a.failTurn(ctx, thread.ID, events, err)
		return
	}

	a.runTurn(ctx, thread, events)
}

// heldBatch returns the tool calls held back by the gate: the pending
// call plus the rest of the last assistant message's batch.
func (a *Agent) heldBatch(thread *domain.Thread, pending domain.ToolCall) []domain.ToolCall {
	last := thread.LastAssistant()
	if last == nil || len(last.ToolCalls) == 0 {
		return []domain.ToolCall{pending}
	}
	return last.ToolCalls
}

// runTurn drives the agent loop until the model responds without tool
// calls, a gated call pauses the turn, or an error ends it.
func (a *Agent) runTurn(ctx context.Context, thread *domain.Thread, events chan<- AgentEvent) {
	ctx, cancel := a.turnContext(ctx)
	defer cancel()
	ctx = domain.ContextWithThreadID(ctx, thread.ID)

	ctx, span := tracer.StartSpan(ctx, "agent.turn",
		trace.WithAttributes(tracer.StringAttr("thread.id", thread.ID)),
	)
	defer span.End()

	var totalUsage domain.Usage

	for i := 0; i < a.deps.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			a.failTurn(ctx, thread.ID, events, err)
			return
		}
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		chatReq := a.deps.History.Build(thread.Messages, a.deps.Registry.Schemas())

		a.publishEvent(ctx, domain.EventLLMCallStarted, thread.ID, nil)
		msg, usage, err := a.callLLMWithRetry(ctx, chatReq, events)
		if err != nil {
			tracer.RecordError(span, err)
			a.failTurn(ctx, thread.ID, events,
				domain.NewDomainError("Agent.runTurn", domain.ErrModelInvocation, err.Error()))
			return
		}
		a.publishEvent(ctx, domain.EventLLMCallCompleted, thread.ID, nil)

		totalUsage.PromptTokens += usage.PromptTokens
		totalUsage.CompletionTokens += usage.CompletionTokens
		totalUsage.TotalTokens += usage.TotalTokens

		thread.Append(msg)

		a.deps.Logger.Debug("llm response",
			"thread", thread.ID,
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", usage.TotalTokens,
		)

		switch Decide(msg, a.deps.Registry) {
		case RouteRespond:
			if err := a.deps.Store.Save(ctx, thread); err != nil {
				a.failTurn(ctx, thread.ID, events, err)
				return
			}
			events <- AgentEvent{
				Type:     AgentEventFinished,
				Content:  msg.Content,
				Usage:    &totalUsage,
				Messages: thread.Messages,
			}
			a.publishEvent(ctx, domain.EventStreamCompleted, thread.ID, nil)
			tracer.SetOK(span)
			return

		case RouteGatedExecute:
			thread.Pending = &domain.PendingApproval{
				ToolCall:    msg.ToolCalls[0],
				RequestedAt: time.Now(),
			}
			if err := a.deps.Store.Save(ctx, thread); err != nil {
				a.failTurn(ctx, thread.ID, events, err)
				return
			}
			call := msg.ToolCalls[0]
			events <- AgentEvent{Type: AgentEventDecisionRequired, ToolCall: &call}
			a.publishEvent(ctx, domain.EventDecisionRequired, thread.ID, map[string]any{"tool": call.Name})
			tracer.SetOK(span)
			return

		case RouteAutoExecute:
			for _, call := range msg.ToolCalls {
				events <- AgentEvent{Type: AgentEventToolStarted, ToolName: call.Name}
				a.publishEvent(ctx, domain.EventToolCallStarted, thread.ID, map[string]any{"tool": call.Name})
			}
			results, err := a.deps.Executor.ExecuteBatch(ctx, msg.ToolCalls)
			if err != nil {
				a.failTurn(ctx, thread.ID, events, err)
				return
			}
			for _, call := range msg.ToolCalls {
				events <- AgentEvent{Type: AgentEventToolFinished, ToolName: call.Name}
				a.publishEvent(ctx, domain.EventToolCallCompleted, thread.ID, map[string]any{"tool": call.Name})
			}
			thread.Append(results...)
			if err := a.deps.Store.Save(ctx, thread); err != nil {
				a.failTurn(ctx, thread.ID, events, err)
				return
			}
		}
	}

	tracer.RecordError(span, domain.ErrMaxTurns)
	a.failTurn(ctx, thread.ID, events,
		domain.NewDomainError("Agent.runTurn", domain.ErrMaxTurns, thread.ID))
}

// failTurn emits the terminal error event. The thread is deliberately
// not saved here; the last persisted state remains the recovery point.
func (a *Agent) failTurn(ctx context.Context, threadID string, events chan<- AgentEvent, err error) {
	a.deps.Logger.Error("turn failed", "thread", threadID, "error", err)
	events <- AgentEvent{Type: AgentEventError, Err: err}
	a.publishEvent(ctx, domain.EventStreamError, threadID, map[string]any{"error": err.Error()})
}

func (a *Agent) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.deps.Timeout > 0 {
		return context.WithTimeout(ctx, a.deps.Timeout)
	}
	return context.WithCancel(ctx)
}

// callLLMWithRetry performs the LLM call, streaming deltas to the event
// channel when the provider supports it, with backoff on rate limits and
// transient server errors.
func (a *Agent) callLLMWithRetry(ctx context.Context, chatReq domain.ChatRequest, events chan<- AgentEvent) (domain.Message, domain.Usage, error) {
	sp, canStream := a.deps.LLM.(domain.StreamingLLMProvider)

	var lastErr error
	for attempt := 0; attempt < maxLLMRetries; attempt++ {
		var msg domain.Message
		var usage domain.Usage
		var callErr error

		if canStream {
			llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_stream")
			deltaCh, err := sp.ChatStream(llmCtx, chatReq)
			llmSpan.End()

			if err != nil {
				callErr = err
			} else {
				acc := newStreamAccumulator()
				for delta := range deltaCh {
					acc.addDelta(delta)
					if delta.Content != "" {
						events <- AgentEvent{Type: AgentEventDelta, Content: delta.Content}
					}
					if delta.Reasoning != "" {
						events <- AgentEvent{Type: AgentEventReasoning, Content: delta.Reasoning}
					}
				}
				// A stream cut short mid-way is a failed call, not a
				// short answer; the partial message must not be kept.
				if acc.err != nil {
					callErr = acc.err
				} else {
					msg, usage = acc.build()
				}
			}
		} else {
			llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
			resp, err := a.deps.LLM.Chat(llmCtx, chatReq)
			llmSpan.End()

			if err != nil {
				callErr = err
			} else {
				msg = resp.Message
				usage = resp.Usage
			}
		}

		if callErr == nil {
			return msg, usage, nil
		}
		lastErr = callErr

		if !errors.Is(callErr, domain.ErrRateLimit) {
			return domain.Message{}, domain.Usage{}, lastErr
		}

		if attempt < maxLLMRetries-1 {
			delay := retryBackoff(attempt)
			a.deps.Logger.Info("retrying LLM call after error",
				"attempt", attempt+1, "delay", delay, "error", callErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.Message{}, domain.Usage{}, ctx.Err()
			}
		}
	}

	return domain.Message{}, domain.Usage{}, lastErr
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// publishEvent publishes a domain event on the bus if it is configured.
func (a *Agent) publishEvent(ctx context.Context, eventType domain.EventType, threadID string, payload any) {
	if a.deps.Bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			a.deps.Logger.Warn("event payload marshal failed", "event", string(eventType), "error", err)
		} else {
			raw = data
		}
	}
	a.deps.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		ThreadID:  threadID,
		Payload:   raw,
	})
}

// maxToolCallSlots limits the number of tool call slots the accumulator
// will allocate. Indices beyond this bound are silently dropped to prevent
// memory exhaustion from malformed streaming deltas.
const maxToolCallSlots = 50

// streamAccumulator collects incremental deltas into a complete message.
type streamAccumulator struct {
	content   strings.Builder
	reasoning strings.Builder
	toolCalls []domain.ToolCall // slot per wire index
	usage     domain.Usage
	err       error
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// addDelta merges a single streaming delta into the accumulator.
// Tool call fragments are correlated by their wire Index, not by their
// position in the delta's array: providers stream each fragment of call
// N as a one-element array carrying index N. The first fragment for a
// slot provides ID and Name; later fragments append to Arguments.
func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	if delta.Err != nil && acc.err == nil {
		acc.err = delta.Err
	}

	acc.content.WriteString(delta.Content)
	acc.reasoning.WriteString(delta.Reasoning)

	for _, tc := range delta.ToolCalls {
		if tc.Index < 0 || tc.Index >= maxToolCallSlots {
			continue
		}

		for len(acc.toolCalls) <= tc.Index {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}

		slot := &acc.toolCalls[tc.Index]
		if tc.ID != "" {
			slot.ID = tc.ID
		}
		if tc.Name != "" {
			slot.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			slot.Arguments = append(slot.Arguments, tc.Arguments...)
		}
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

// build returns the accumulated message and usage.
func (acc *streamAccumulator) build() (domain.Message, domain.Usage) {
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		Reasoning: acc.reasoning.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}
	return msg, acc.usage
}
