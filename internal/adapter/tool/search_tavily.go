package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxSearchBodySize = 512 * 1024 // 512KB

// tavilyResponse models the relevant portion of the Tavily JSON response.
type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// TavilyBackend searches the web via the Tavily search API.
type TavilyBackend struct {
	client  *http.Client
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewTavilyBackend creates a search backend using the Tavily API.
func NewTavilyBackend(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *TavilyBackend {
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TavilyBackend{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (b *TavilyBackend) Name() string { return "tavily" }

func (b *TavilyBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	payload, err := json.Marshal(map[string]any{
		"query":       query,
		"max_results": count,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var tavilyResp tavilyResponse
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(tavilyResp.Results))
	for _, r := range tavilyResp.Results {
		if len(results) >= count {
			break
		}
		results = append(results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
		})
	}

	b.logger.Debug("tavily search completed", "query", query, "results", len(results))
	return results, nil
}

var _ SearchBackend = (*TavilyBackend)(nil)
