package gateway

import (
	"encoding/json"
	"net/http"
	"testing"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
	"nimbus/internal/usecase"
)

func TestChatStreamsChunks(t *testing.T) {
	runner := &fakeRunner{events: []usecase.AgentEvent{
		{Type: usecase.AgentEventReasoning, Content: "thinking"},
		{Type: usecase.AgentEventDelta, Content: "Hel"},
		{Type: usecase.AgentEventDelta, Content: "lo"},
		{Type: usecase.AgentEventFinished, Content: "Hello", Usage: &domain.Usage{TotalTokens: 15}, Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "Hello"},
		}},
	}}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat", `{"thread_id":"t1","query":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", got)
	}

	chunks := readChunks(t, resp.Body)
	if len(chunks) != 5 {
		t.Fatalf("len(chunks) = %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Status != statusInit || chunks[0].Meta["thread_id"] != "t1" {
		t.Errorf("init chunk = %+v", chunks[0])
	}
	if chunks[1].Status != statusReasoning || chunks[1].Reasoning != "thinking" {
		t.Errorf("reasoning chunk = %+v", chunks[1])
	}
	if chunks[2].Response != "Hel" || chunks[3].Response != "lo" {
		t.Errorf("delta chunks = %+v, %+v", chunks[2], chunks[3])
	}
	last := chunks[len(chunks)-1]
	if last.Status != statusFinished || last.Response != "Hello" {
		t.Errorf("final chunk = %+v", last)
	}
	if last.Meta["usage"] == nil {
		t.Error("final chunk missing usage meta")
	}
	history, ok := last.Meta["history"].([]any)
	if !ok || len(history) != 2 {
		t.Fatalf("final chunk history = %v", last.Meta["history"])
	}
	first, _ := history[0].(map[string]any)
	if first["role"] != domain.RoleUser || first["content"] != "hi" {
		t.Errorf("history[0] = %v", first)
	}
}

func TestChatGeneratesThreadID(t *testing.T) {
	runner := &fakeRunner{events: []usecase.AgentEvent{
		{Type: usecase.AgentEventFinished, Content: "done"},
	}}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat", `{"query":"hi"}`)
	defer resp.Body.Close()

	chunks := readChunks(t, resp.Body)
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	id, _ := chunks[0].Meta["thread_id"].(string)
	if len(id) != 26 {
		t.Errorf("thread_id = %q, want generated ULID", id)
	}
}

func TestChatDecisionRequiredChunk(t *testing.T) {
	call := &domain.ToolCall{ID: "c1", Name: "delete_weather_from_db", Arguments: json.RawMessage(`{"city":"Beijing"}`)}
	runner := &fakeRunner{events: []usecase.AgentEvent{
		{Type: usecase.AgentEventDecisionRequired, ToolCall: call},
	}}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat", `{"thread_id":"t1","query":"wipe it"}`)
	defer resp.Body.Close()

	chunks := readChunks(t, resp.Body)
	last := chunks[len(chunks)-1]
	if last.Status != statusDecisionRequired {
		t.Fatalf("final chunk = %+v", last)
	}
	tc, ok := last.Meta["tool_call"].(map[string]any)
	if !ok {
		t.Fatalf("tool_call meta = %v", last.Meta["tool_call"])
	}
	if tc["name"] != "delete_weather_from_db" {
		t.Errorf("tool_call = %v", tc)
	}
}

func TestChatToolProgressChunks(t *testing.T) {
	runner := &fakeRunner{events: []usecase.AgentEvent{
		{Type: usecase.AgentEventToolStarted, ToolName: "get_weather"},
		{Type: usecase.AgentEventToolFinished, ToolName: "get_weather"},
		{Type: usecase.AgentEventFinished, Content: "sunny"},
	}}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat", `{"thread_id":"t1","query":"weather?"}`)
	defer resp.Body.Close()

	chunks := readChunks(t, resp.Body)
	if len(chunks) != 4 {
		t.Fatalf("len(chunks) = %d", len(chunks))
	}
	if chunks[1].Status != statusLoading || chunks[1].Meta["tool"] != "get_weather" {
		t.Errorf("started chunk = %+v", chunks[1])
	}
	if chunks[2].Meta["done"] != true {
		t.Errorf("finished chunk = %+v", chunks[2])
	}
}

func TestChatErrorChunk(t *testing.T) {
	runner := &fakeRunner{events: []usecase.AgentEvent{
		{Type: usecase.AgentEventError, Err: domain.ErrModelInvocation},
	}}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat", `{"thread_id":"t1","query":"hi"}`)
	defer resp.Body.Close()

	chunks := readChunks(t, resp.Body)
	last := chunks[len(chunks)-1]
	if last.Status != statusError {
		t.Fatalf("final chunk = %+v", last)
	}
	if last.Meta["code"] != string(domain.CodeModelInvocation) {
		t.Errorf("error code = %v", last.Meta["code"])
	}
}

func TestChatSubmitErrorStatus(t *testing.T) {
	runner := &fakeRunner{err: domain.ErrDecisionPending}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat", `{"thread_id":"t1","query":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}

	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if apiErr.Code == "" {
		t.Error("error response missing code")
	}
}

func TestChatRejectsUnknownFields(t *testing.T) {
	base := startServer(t, config.GatewayConfig{}, defaultDeps(&fakeRunner{}))

	resp := postJSON(t, base+"/chat", `{"query":"hi","bogus":true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestResolveStreamsChunks(t *testing.T) {
	runner := &fakeRunner{events: []usecase.AgentEvent{
		{Type: usecase.AgentEventFinished, Content: "record deleted"},
	}}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat/resolve", `{"thread_id":"t1","approve":true}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	chunks := readChunks(t, resp.Body)
	last := chunks[len(chunks)-1]
	if last.Status != statusFinished || last.Response != "record deleted" {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestResolveWithoutPendingDecision(t *testing.T) {
	runner := &fakeRunner{err: domain.ErrNoPendingDecision}
	base := startServer(t, config.GatewayConfig{}, defaultDeps(runner))

	resp := postJSON(t, base+"/chat/resolve", `{"thread_id":"t1","approve":false}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
