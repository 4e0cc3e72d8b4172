package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"nimbus/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory ThreadStore with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	threads map[string][]byte
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{threads: make(map[string][]byte)}
}

func (s *fakeStore) Load(_ context.Context, id string) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, id)
	}
	var t domain.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *fakeStore) Save(_ context.Context, thread *domain.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := json.Marshal(thread)
	if err != nil {
		return err
	}
	s.threads[thread.ID] = data
	s.saves++
	return nil
}

func (s *fakeStore) mustLoad(t *testing.T, id string) *domain.Thread {
	t.Helper()
	thread, err := s.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load thread %s: %v", id, err)
	}
	return thread
}

// fakeTool counts executions and returns a fixed result.
type fakeTool struct {
	name   string
	result string
	err    error
	mu     sync.Mutex
	calls  int
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Description: "test tool"}
}

func (f *fakeTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ToolResult{Content: f.result}, nil
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRegistry maps tool names to tools with per-tool sensitivity.
type fakeRegistry struct {
	tools       map[string]domain.Tool
	sensitivity map[string]domain.Sensitivity
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		tools:       make(map[string]domain.Tool),
		sensitivity: make(map[string]domain.Sensitivity),
	}
}

func (r *fakeRegistry) add(t domain.Tool, s domain.Sensitivity) *fakeRegistry {
	r.tools[t.Name()] = t
	r.sensitivity[t.Name()] = s
	return r
}

func (r *fakeRegistry) Get(name string) (domain.Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("fakeRegistry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (r *fakeRegistry) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

func (r *fakeRegistry) Sensitivity(name string) domain.Sensitivity {
	if s, ok := r.sensitivity[name]; ok {
		return s
	}
	return domain.SensitivityAuto
}

// scriptedLLM returns queued responses in order. A nil Message with a
// non-nil error yields that error for the call.
type scriptedLLM struct {
	mu      sync.Mutex
	script  []scriptedReply
	calls   int
	release chan struct{} // when set, Chat blocks until closed
}

type scriptedReply struct {
	msg domain.Message
	err error
}

func reply(msg domain.Message) scriptedReply  { return scriptedReply{msg: msg} }
func replyErr(err error) scriptedReply        { return scriptedReply{err: err} }
func textReply(text string) scriptedReply     { return reply(assistantText(text)) }
func (l *scriptedLLM) Name() string           { return "scripted" }

func assistantText(text string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: text}
}

func assistantCalls(calls ...domain.ToolCall) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}
}

func (l *scriptedLLM) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	if l.calls >= len(l.script) {
		l.mu.Unlock()
		return nil, fmt.Errorf("scriptedLLM: unexpected call %d", l.calls)
	}
	r := l.script[l.calls]
	l.calls++
	l.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return &domain.ChatResponse{
		Message: r.msg,
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// streamLLM returns queued delta streams in order, one per ChatStream call.
type streamLLM struct {
	mu     sync.Mutex
	script [][]domain.StreamDelta
	calls  int
}

func (l *streamLLM) Name() string { return "stream" }

func (l *streamLLM) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, fmt.Errorf("streamLLM: Chat not scripted")
}

func (l *streamLLM) ChatStream(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls >= len(l.script) {
		return nil, fmt.Errorf("streamLLM: unexpected call %d", l.calls)
	}
	deltas := l.script[l.calls]
	l.calls++

	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// newTestAgent assembles an agent over fakes.
func newTestAgent(llm domain.LLMProvider, store domain.ThreadStore, reg domain.ToolRegistry) *Agent {
	log := newTestLogger()
	return NewAgent(AgentDeps{
		LLM:      llm,
		Store:    store,
		Registry: reg,
		Executor: NewToolExecutor(reg, log),
		History:  NewHistoryBuilder("you are a test assistant", "test-model", 0, 0, nil),
		Logger:   log,
	})
}

// collectEvents drains a stream and returns all events, failing the test
// if no terminal event arrives in time.
func collectEvents(t *testing.T, events <-chan AgentEvent) []AgentEvent {
	t.Helper()
	var out []AgentEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d so far", len(out))
		}
	}
}

func lastEvent(t *testing.T, events []AgentEvent) AgentEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	return events[len(events)-1]
}
