package tool

import (
	"context"
	"io"
	"log/slog"

	"nimbus/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSearchBackend returns canned results and counts invocations.
type mockSearchBackend struct {
	results []SearchResult
	err     error
	calls   int
}

func (m *mockSearchBackend) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func (m *mockSearchBackend) Name() string { return "mock" }

// fakeKnowledgeStore implements domain.KnowledgeStore for kb_search tests.
// Only Search is exercised; the rest return zero values.
type fakeKnowledgeStore struct {
	hits     []domain.SearchHit
	err      error
	lastOpts domain.SearchOptions
}

func (f *fakeKnowledgeStore) CreateCollection(ctx context.Context, name, description string, dimension int) (*domain.Collection, error) {
	return nil, nil
}

func (f *fakeKnowledgeStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	return nil, nil
}

func (f *fakeKnowledgeStore) DeleteCollection(ctx context.Context, id string) error { return nil }

func (f *fakeKnowledgeStore) Ingest(ctx context.Context, collectionID, fileName, text string, chunkSize, chunkOverlap int) (string, error) {
	return "", nil
}

func (f *fakeKnowledgeStore) DeleteFile(ctx context.Context, collectionID, fileID string) error {
	return nil
}

func (f *fakeKnowledgeStore) Search(ctx context.Context, collectionID, query string, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}
