package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"nimbus/internal/domain"
	"nimbus/internal/infra/tracer"
)

// KnowledgeSearchTool retrieves relevant passages from the knowledge base.
type KnowledgeSearchTool struct {
	store  domain.KnowledgeStore
	topK   int
	logger *slog.Logger
}

// NewKnowledgeSearchTool creates a knowledge search tool over the given store.
func NewKnowledgeSearchTool(store domain.KnowledgeStore, topK int, logger *slog.Logger) *KnowledgeSearchTool {
	if topK <= 0 {
		topK = 5
	}
	return &KnowledgeSearchTool{store: store, topK: topK, logger: logger}
}

func (t *KnowledgeSearchTool) Name() string { return "kb_search" }

func (t *KnowledgeSearchTool) Description() string {
	return "Search the knowledge base for passages relevant to a query. Use this before answering questions about ingested documents."
}

func (t *KnowledgeSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"collection_id": {"type": "string", "description": "Collection to search (optional, searches all when omitted)"},
				"top_k": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of passages to return"}
			},
			"required": ["query"]
		}`),
	}
}

type kbSearchParams struct {
	Query        string `json:"query"`
	CollectionID string `json:"collection_id,omitempty"`
	TopK         int    `json:"top_k,omitempty"`
}

func (t *KnowledgeSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.kb_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p kbSearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return ErrResult("query must not be empty")
			}

			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			topK := p.TopK
			if topK <= 0 {
				topK = t.topK
			}
			if topK > 20 {
				topK = 20
			}

			hits, err := t.store.Search(ctx, p.CollectionID, p.Query, domain.SearchOptions{TopK: topK})
			if err != nil {
				return nil, err
			}

			t.logger.Debug("knowledge search completed", "query", p.Query, "hits", len(hits))
			return formatKnowledgeHits(p.Query, hits), nil
		},
	)
}

// formatKnowledgeHits converts search hits to a compact text format for LLM consumption.
func formatKnowledgeHits(query string, hits []domain.SearchHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No knowledge base passages found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Knowledge base passages for %q:\n\n", query)
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. (score %.3f) %s\n\n", i+1, h.Score, h.Chunk.Content)
	}
	return sb.String()
}

var _ domain.Tool = (*KnowledgeSearchTool)(nil)
