package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
)

// HTTPReranker calls a cross-encoder rerank service with the JSON API
// used by Jina and Cohere compatible endpoints.
type HTTPReranker struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPReranker creates a reranker client from config.
func NewHTTPReranker(cfg config.RerankerConfig) *HTTPReranker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPReranker{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements domain.Reranker.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: passages})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrKnowledgeSearch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrKnowledgeSearch, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank request: %v", domain.ErrKnowledgeSearch, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrKnowledgeSearch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rerank service returned %d: %s", domain.ErrKnowledgeSearch, resp.StatusCode, respBody)
	}

	var rr rerankResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrKnowledgeSearch, err)
	}

	scores := make([]float64, len(passages))
	for _, res := range rr.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			return nil, fmt.Errorf("%w: rerank index %d out of range", domain.ErrKnowledgeSearch, res.Index)
		}
		scores[res.Index] = res.RelevanceScore
	}
	return scores, nil
}

var _ domain.Reranker = (*HTTPReranker)(nil)
