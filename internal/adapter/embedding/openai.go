package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
)

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// OpenAIProvider implements domain.EmbeddingProvider against an
// OpenAI-compatible embeddings API.
type OpenAIProvider struct {
	apiKey  string
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider creates an embedding provider from config.
func NewOpenAIProvider(cfg config.EmbeddingConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  defaultHTTPClient,
	}
	if p.model == "" {
		p.model = "text-embedding-3-small"
	}
	if p.dims <= 0 {
		p.dims = 1536
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.openai.com/v1"
	}
	return p
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []embedData `json:"data"`
}

type embedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Embed implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrEmbeddingFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrEmbeddingFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrEmbeddingFailed, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrEmbeddingFailed, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error %d: %s", domain.ErrEmbeddingFailed, httpResp.StatusCode, string(respBody))
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrEmbeddingFailed, len(texts), len(resp.Data))
	}

	// Sort by index to ensure correct ordering.
	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	result := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		result[i] = d.Embedding
	}
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *OpenAIProvider) Name() string { return "openai" }

var _ domain.EmbeddingProvider = (*OpenAIProvider)(nil)
