package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"nimbus/internal/domain"
)

func TestKnowledgeSearchFormatsHits(t *testing.T) {
	store := &fakeKnowledgeStore{hits: []domain.SearchHit{
		{Chunk: domain.Chunk{Content: "the ULID spec"}, Score: 0.91},
		{Chunk: domain.Chunk{Content: "lexicographic sorting"}, Score: 0.73},
	}}
	kb := NewKnowledgeSearchTool(store, 5, newTestLogger())

	res, err := kb.Execute(context.Background(), json.RawMessage(`{"query":"ulid"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "(score 0.910) the ULID spec") {
		t.Errorf("Content = %q", res.Content)
	}
	if !strings.Contains(res.Content, "lexicographic sorting") {
		t.Errorf("Content missing second hit: %q", res.Content)
	}
}

func TestKnowledgeSearchTopKDefaultsAndCap(t *testing.T) {
	store := &fakeKnowledgeStore{}
	kb := NewKnowledgeSearchTool(store, 7, newTestLogger())

	if _, err := kb.Execute(context.Background(), json.RawMessage(`{"query":"q"}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.lastOpts.TopK != 7 {
		t.Errorf("default TopK = %d, want 7", store.lastOpts.TopK)
	}

	if _, err := kb.Execute(context.Background(), json.RawMessage(`{"query":"q","top_k":99}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.lastOpts.TopK != 20 {
		t.Errorf("capped TopK = %d, want 20", store.lastOpts.TopK)
	}
}

func TestKnowledgeSearchEmptyQuery(t *testing.T) {
	kb := NewKnowledgeSearchTool(&fakeKnowledgeStore{}, 5, newTestLogger())

	res, err := kb.Execute(context.Background(), json.RawMessage(`{"query":" "}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result for empty query")
	}
}

func TestKnowledgeSearchNoHits(t *testing.T) {
	kb := NewKnowledgeSearchTool(&fakeKnowledgeStore{}, 5, newTestLogger())

	res, err := kb.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "No knowledge base passages found") {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestKnowledgeSearchStoreError(t *testing.T) {
	kb := NewKnowledgeSearchTool(&fakeKnowledgeStore{err: errors.New("db locked")}, 5, newTestLogger())

	res, err := kb.Execute(context.Background(), json.RawMessage(`{"query":"q"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("expected error result when store fails")
	}
}
