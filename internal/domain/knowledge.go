package domain

import (
	"context"
	"time"
)

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "openai").
	Name() string
}

// Collection is a named knowledge base holding ingested documents.
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Dimension   int       `json:"dimension"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is one indexed fragment of an ingested document.
type Chunk struct {
	ID        string            `json:"id"`
	FileID    string            `json:"file_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchHit is a retrieved chunk with its relevance score. Score is
// cosine similarity unless a reranker rescored the hit.
type SearchHit struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`
	Reranked bool    `json:"reranked,omitempty"`
}

// SearchOptions tunes a knowledge search.
type SearchOptions struct {
	TopK              int     `json:"top_k"`
	DistanceThreshold float64 `json:"distance_threshold,omitempty"`
	Rerank            bool    `json:"rerank"`
}

// KnowledgeStore is the retrieval backend for the knowledge-base tools
// and the data endpoints.
type KnowledgeStore interface {
	CreateCollection(ctx context.Context, name, description string, dimension int) (*Collection, error)
	ListCollections(ctx context.Context) ([]Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	// Ingest chunks and indexes a document's text into a collection,
	// returning the assigned file id.
	Ingest(ctx context.Context, collectionID, fileName, text string, chunkSize, chunkOverlap int) (string, error)
	DeleteFile(ctx context.Context, collectionID, fileID string) error
	Search(ctx context.Context, collectionID, query string, opts SearchOptions) ([]SearchHit, error)
}

// Reranker rescores (query, passage) pairs, typically via a dedicated
// cross-encoder service.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}
