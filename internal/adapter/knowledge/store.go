package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"nimbus/internal/domain"
)

// Store implements domain.KnowledgeStore backed by SQLite with
// embedding BLOBs. Vector search is a brute-force cosine scan over the
// collection's chunks, which is fine at the scale a single agent
// ingests. An optional Reranker rescores the top candidates.
type Store struct {
	db       *sql.DB
	embedder domain.EmbeddingProvider
	reranker domain.Reranker
	logger   *slog.Logger
}

// New opens (or creates) the knowledge database at dbPath and runs
// migrations. Pass nil for reranker to disable reranking.
func New(dbPath string, embedder domain.EmbeddingProvider, reranker domain.Reranker, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrKnowledgeStore, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrKnowledgeStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrKnowledgeStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrKnowledgeStore, err)
	}

	return &Store{db: db, embedder: embedder, reranker: reranker, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS collections (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			dimension   INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS files (
			id            TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			name          TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chunks (
			id            TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			file_id       TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			content       TEXT NOT NULL,
			metadata      TEXT NOT NULL DEFAULT '{}',
			embedding     BLOB,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCollection implements domain.KnowledgeStore.
func (s *Store) CreateCollection(ctx context.Context, name, description string, dimension int) (*domain.Collection, error) {
	if dimension <= 0 && s.embedder != nil {
		dimension = s.embedder.Dimensions()
	}
	col := &domain.Collection{
		ID:          ulid.Make().String(),
		Name:        name,
		Description: description,
		Dimension:   dimension,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, description, dimension, created_at) VALUES (?, ?, ?, ?, ?)`,
		col.ID, col.Name, col.Description, col.Dimension, col.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", domain.ErrKnowledgeStore, err)
	}
	return col, nil
}

// ListCollections implements domain.KnowledgeStore.
func (s *Store) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.dimension, c.created_at,
		       (SELECT COUNT(1) FROM chunks ch WHERE ch.collection_id = c.id)
		FROM collections c ORDER BY c.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", domain.ErrKnowledgeStore, err)
	}
	defer rows.Close()

	var cols []domain.Collection
	for rows.Next() {
		var c domain.Collection
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Dimension, &createdAt, &c.ChunkCount); err != nil {
			return nil, fmt.Errorf("%w: scan collection: %v", domain.ErrKnowledgeStore, err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate collections: %v", domain.ErrKnowledgeStore, err)
	}
	return cols, nil
}

// DeleteCollection implements domain.KnowledgeStore.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete collection: %v", domain.ErrKnowledgeStore, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, id)
	}
	// Without foreign_keys pragma SQLite skips cascades, so clean up directly.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", domain.ErrKnowledgeStore, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete files: %v", domain.ErrKnowledgeStore, err)
	}
	return nil
}

// Ingest implements domain.KnowledgeStore.
func (s *Store) Ingest(ctx context.Context, collectionID, fileName, text string, chunkSize, chunkOverlap int) (string, error) {
	if err := s.collectionExists(ctx, collectionID); err != nil {
		return "", err
	}

	pieces := splitText(text, chunkSize, chunkOverlap)
	if len(pieces) == 0 {
		return "", fmt.Errorf("%w: document is empty", domain.ErrKnowledgeStore)
	}

	var embeddings [][]float32
	if s.embedder != nil {
		var err error
		embeddings, err = s.embedder.Embed(ctx, pieces)
		if err != nil {
			return "", err
		}
		if len(embeddings) != len(pieces) {
			return "", fmt.Errorf("%w: embedding count mismatch", domain.ErrEmbeddingFailed)
		}
	}

	fileID := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin tx: %v", domain.ErrKnowledgeStore, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (id, collection_id, name, created_at) VALUES (?, ?, ?, ?)`,
		fileID, collectionID, fileName, now,
	); err != nil {
		return "", fmt.Errorf("%w: insert file: %v", domain.ErrKnowledgeStore, err)
	}

	meta, _ := json.Marshal(map[string]string{"file_name": fileName})
	for i, piece := range pieces {
		var blob []byte
		if embeddings != nil {
			blob = float32ToBytes(embeddings[i])
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, collection_id, file_id, content, metadata, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ulid.Make().String(), collectionID, fileID, piece, string(meta), blob, now,
		); err != nil {
			return "", fmt.Errorf("%w: insert chunk: %v", domain.ErrKnowledgeStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %v", domain.ErrKnowledgeStore, err)
	}

	s.logger.Info("document ingested",
		"collection_id", collectionID, "file_id", fileID, "file", fileName, "chunks", len(pieces))
	return fileID, nil
}

// DeleteFile implements domain.KnowledgeStore.
func (s *Store) DeleteFile(ctx context.Context, collectionID, fileID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE id = ? AND collection_id = ?`, fileID, collectionID)
	if err != nil {
		return fmt.Errorf("%w: delete file: %v", domain.ErrKnowledgeStore, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: file %s not found in collection %s", domain.ErrKnowledgeStore, fileID, collectionID)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", domain.ErrKnowledgeStore, err)
	}
	return nil
}

// scoredChunk pairs a chunk with its similarity score.
type scoredChunk struct {
	chunk domain.Chunk
	score float64
}

// Search implements domain.KnowledgeStore. An empty collectionID
// searches every collection.
func (s *Store) Search(ctx context.Context, collectionID, query string, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	if s.embedder == nil {
		return s.likeSearch(ctx, collectionID, query, topK)
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	queryVec := vecs[0]

	candidates, err := s.scanChunks(ctx, collectionID, queryVec, opts.DistanceThreshold)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Rerank a wider candidate window than topK so the reranker can
	// promote passages cosine ranked lower.
	if opts.Rerank && s.reranker != nil && len(candidates) > 0 {
		window := topK * 3
		if window > len(candidates) {
			window = len(candidates)
		}
		reranked, err := s.applyRerank(ctx, query, candidates[:window])
		if err != nil {
			s.logger.Warn("rerank failed, keeping cosine order", "error", err)
		} else {
			return capHits(reranked, topK), nil
		}
	}

	hits := make([]domain.SearchHit, 0, min(topK, len(candidates)))
	for i := 0; i < len(candidates) && i < topK; i++ {
		hits = append(hits, domain.SearchHit{Chunk: candidates[i].chunk, Score: candidates[i].score})
	}
	return hits, nil
}

func (s *Store) scanChunks(ctx context.Context, collectionID string, queryVec []float32, threshold float64) ([]scoredChunk, error) {
	q := `SELECT id, file_id, content, metadata, embedding, created_at FROM chunks`
	args := []any{}
	if collectionID != "" {
		if err := s.collectionExists(ctx, collectionID); err != nil {
			return nil, err
		}
		q += ` WHERE collection_id = ?`
		args = append(args, collectionID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query chunks: %v", domain.ErrKnowledgeSearch, err)
	}
	defer rows.Close()

	var candidates []scoredChunk
	for rows.Next() {
		var c domain.Chunk
		var metaJSON, createdAt string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.FileID, &c.Content, &metaJSON, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", domain.ErrKnowledgeSearch, err)
		}
		sim := float64(cosineSimilarity(queryVec, bytesToFloat32(blob)))
		if sim <= 0 || (threshold > 0 && sim < threshold) {
			continue
		}
		_ = json.Unmarshal([]byte(metaJSON), &c.Metadata)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		candidates = append(candidates, scoredChunk{chunk: c, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %v", domain.ErrKnowledgeSearch, err)
	}
	return candidates, nil
}

// likeSearch is the keyword fallback used when no embedding provider is
// configured. Hits carry no meaningful score ordering beyond recency.
func (s *Store) likeSearch(ctx context.Context, collectionID, query string, topK int) ([]domain.SearchHit, error) {
	q := `SELECT id, file_id, content, metadata, created_at FROM chunks WHERE content LIKE ?`
	args := []any{"%" + query + "%"}
	if collectionID != "" {
		if err := s.collectionExists(ctx, collectionID); err != nil {
			return nil, err
		}
		q += ` AND collection_id = ?`
		args = append(args, collectionID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", domain.ErrKnowledgeSearch, err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var c domain.Chunk
		var metaJSON, createdAt string
		if err := rows.Scan(&c.ID, &c.FileID, &c.Content, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", domain.ErrKnowledgeSearch, err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &c.Metadata)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		hits = append(hits, domain.SearchHit{Chunk: c, Score: 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %v", domain.ErrKnowledgeSearch, err)
	}
	return hits, nil
}

func (s *Store) applyRerank(ctx context.Context, query string, candidates []scoredChunk) ([]domain.SearchHit, error) {
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.chunk.Content
	}
	scores, err := s.reranker.Rerank(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: reranker returned %d scores for %d passages",
			domain.ErrKnowledgeSearch, len(scores), len(candidates))
	}

	hits := make([]domain.SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = domain.SearchHit{Chunk: c.chunk, Score: scores[i], Reranked: true}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

func capHits(hits []domain.SearchHit, topK int) []domain.SearchHit {
	if len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

func (s *Store) collectionExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", domain.ErrKnowledgeStore, err)
	}
	return nil
}

var _ domain.KnowledgeStore = (*Store)(nil)
