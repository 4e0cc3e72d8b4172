package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oklog/ulid/v2"

	"nimbus/internal/domain"
	"nimbus/internal/usecase"
)

// chatChunk is one newline-delimited JSON element of a chat stream.
type chatChunk struct {
	Response  string         `json:"response,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Status    string         `json:"status"`
	Meta      map[string]any `json:"meta,omitempty"`
}

const (
	statusInit             = "init"
	statusLoading          = "loading"
	statusReasoning        = "reasoning"
	statusDecisionRequired = "decision_required"
	statusFinished         = "finished"
	statusError            = "error"
)

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Query    string `json:"query"`
}

type resolveRequest struct {
	ThreadID string `json:"thread_id"`
	Approve  bool   `json:"approve"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.chat", domain.ErrInvalidInput, err.Error()))
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = ulid.Make().String()
	}

	events, err := s.agent.Submit(r.Context(), req.ThreadID, req.Query)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.streamChunks(w, r, req.ThreadID, events)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.resolve", domain.ErrInvalidInput, err.Error()))
		return
	}

	events, err := s.agent.ResolveDecision(r.Context(), req.ThreadID, req.Approve)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.streamChunks(w, r, req.ThreadID, events)
}

// streamChunks drains an agent event stream into NDJSON chunks.
// Client disconnects cancel r.Context(), which the agent's turn
// context observes.
func (s *Server) streamChunks(w http.ResponseWriter, r *http.Request, threadID string, events <-chan usecase.AgentEvent) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	write := func(c chatChunk) {
		if err := enc.Encode(c); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	write(chatChunk{Status: statusInit, Meta: map[string]any{"thread_id": threadID}})

	for ev := range events {
		switch ev.Type {
		case usecase.AgentEventDelta:
			write(chatChunk{Response: ev.Content, Status: statusLoading})
		case usecase.AgentEventReasoning:
			write(chatChunk{Reasoning: ev.Content, Status: statusReasoning})
		case usecase.AgentEventToolStarted:
			write(chatChunk{Status: statusLoading, Meta: map[string]any{"tool": ev.ToolName}})
		case usecase.AgentEventToolFinished:
			write(chatChunk{Status: statusLoading, Meta: map[string]any{"tool": ev.ToolName, "done": true}})
		case usecase.AgentEventDecisionRequired:
			meta := map[string]any{"thread_id": threadID}
			if ev.ToolCall != nil {
				meta["tool_call"] = ev.ToolCall
			}
			write(chatChunk{Status: statusDecisionRequired, Meta: meta})
		case usecase.AgentEventFinished:
			meta := map[string]any{"thread_id": threadID}
			if ev.Usage != nil {
				meta["usage"] = ev.Usage
			}
			if len(ev.Messages) > 0 {
				meta["history"] = ev.Messages
			}
			write(chatChunk{Response: ev.Content, Status: statusFinished, Meta: meta})
		case usecase.AgentEventError:
			meta := map[string]any{"thread_id": threadID}
			if ev.Err != nil {
				meta["error"] = ev.Err.Error()
				meta["code"] = string(domain.ErrorCodeOf(ev.Err))
			}
			write(chatChunk{Status: statusError, Meta: meta})
		}
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.models})
}

type callRequest struct {
	Model    string `json:"model,omitempty"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// handleCall is a one-shot completion that bypasses the agent loop,
// tools and thread persistence.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.call", domain.ErrInvalidInput, err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.call", domain.ErrInvalidInput, "messages must not be empty"))
		return
	}

	messages := make([]domain.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = domain.Message{Role: m.Role, Content: m.Content}
	}

	resp, err := s.llm.Chat(r.Context(), domain.ChatRequest{Model: req.Model, Messages: messages})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":   resp.Model,
		"content": resp.Message.Content,
		"usage":   resp.Usage,
	})
}

type toolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Sensitivity domain.Sensitivity `json:"sensitivity"`
	Parameters  json.RawMessage    `json:"parameters"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	schemas := s.registry.Schemas()
	tools := make([]toolInfo, len(schemas))
	for i, schema := range schemas {
		tools[i] = toolInfo{
			Name:        schema.Name,
			Description: schema.Description,
			Sensitivity: s.registry.Sensitivity(schema.Name),
			Parameters:  schema.Parameters,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrThreadNotFound),
		errors.Is(err, domain.ErrNoPendingDecision),
		errors.Is(err, domain.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentSubmission),
		errors.Is(err, domain.ErrDecisionPending),
		errors.Is(err, domain.ErrDuplicateDecision):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAuthInvalid):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
