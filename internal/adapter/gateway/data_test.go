package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
)

// fakeKnowledge records calls and returns canned data.
type fakeKnowledge struct {
	collections []domain.Collection
	hits        []domain.SearchHit
	lastOpts    domain.SearchOptions
	lastIngest  struct {
		collectionID, fileName, text string
		chunkSize, chunkOverlap      int
	}
	deleted []string
}

func (f *fakeKnowledge) CreateCollection(ctx context.Context, name, description string, dimension int) (*domain.Collection, error) {
	col := domain.Collection{ID: "col_1", Name: name, Description: description, Dimension: dimension, CreatedAt: time.Now()}
	f.collections = append(f.collections, col)
	return &col, nil
}

func (f *fakeKnowledge) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	return f.collections, nil
}

func (f *fakeKnowledge) DeleteCollection(ctx context.Context, id string) error {
	for i, c := range f.collections {
		if c.ID == id {
			f.collections = append(f.collections[:i], f.collections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, id)
}

func (f *fakeKnowledge) Ingest(ctx context.Context, collectionID, fileName, text string, chunkSize, chunkOverlap int) (string, error) {
	f.lastIngest.collectionID = collectionID
	f.lastIngest.fileName = fileName
	f.lastIngest.text = text
	f.lastIngest.chunkSize = chunkSize
	f.lastIngest.chunkOverlap = chunkOverlap
	return "file_1", nil
}

func (f *fakeKnowledge) DeleteFile(ctx context.Context, collectionID, fileID string) error {
	f.deleted = append(f.deleted, collectionID+"/"+fileID)
	return nil
}

func (f *fakeKnowledge) Search(ctx context.Context, collectionID, query string, opts domain.SearchOptions) ([]domain.SearchHit, error) {
	f.lastOpts = opts
	return f.hits, nil
}

func knowledgeDeps(kb domain.KnowledgeStore) Deps {
	deps := defaultDeps(&fakeRunner{})
	deps.Knowledge = kb
	return deps
}

func TestCollectionEndpoints(t *testing.T) {
	kb := &fakeKnowledge{}
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(kb))

	resp := postJSON(t, base+"/data", `{"name":"docs","description":"test"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var col domain.Collection
	if err := json.NewDecoder(resp.Body).Decode(&col); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if col.Name != "docs" {
		t.Errorf("collection = %+v", col)
	}

	resp, err := http.Get(base + "/data")
	if err != nil {
		t.Fatalf("GET /data: %v", err)
	}
	var list struct {
		Collections []domain.Collection `json:"collections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(list.Collections) != 1 {
		t.Errorf("collections = %+v", list.Collections)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/data/"+col.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if len(kb.collections) != 0 {
		t.Error("collection not removed")
	}
}

func TestDeleteUnknownCollection(t *testing.T) {
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(&fakeKnowledge{}))

	req, _ := http.NewRequest(http.MethodDelete, base+"/data/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListCollectionsEmpty(t *testing.T) {
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(&fakeKnowledge{}))

	resp, err := http.Get(base + "/data")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Empty list serializes as [], not null.
	if string(raw["collections"]) != "[]" {
		t.Errorf("collections = %s", raw["collections"])
	}
}

func TestIngestEndpoint(t *testing.T) {
	kb := &fakeKnowledge{}
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(kb))

	resp := postJSON(t, base+"/data/col_1/ingest", `{"file_name":"notes.md","text":"some text","chunk_size":200}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["file_id"] != "file_1" {
		t.Errorf("file_id = %q", body["file_id"])
	}
	if kb.lastIngest.collectionID != "col_1" || kb.lastIngest.chunkSize != 200 {
		t.Errorf("ingest call = %+v", kb.lastIngest)
	}
}

func TestIngestRequiresFields(t *testing.T) {
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(&fakeKnowledge{}))

	resp := postJSON(t, base+"/data/col_1/ingest", `{"file_name":"","text":""}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteFileEndpoint(t *testing.T) {
	kb := &fakeKnowledge{}
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(kb))

	req, _ := http.NewRequest(http.MethodDelete, base+"/data/col_1/files/file_9", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(kb.deleted) != 1 || kb.deleted[0] != "col_1/file_9" {
		t.Errorf("deleted = %v", kb.deleted)
	}
}

func TestSearchEndpoint(t *testing.T) {
	kb := &fakeKnowledge{hits: []domain.SearchHit{
		{Chunk: domain.Chunk{Content: "match"}, Score: 0.8},
	}}
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(kb))

	resp, err := http.Get(base + "/data/search?query=ulid&top_k=3&threshold=0.5&rerank=true")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if kb.lastOpts.TopK != 3 || kb.lastOpts.DistanceThreshold != 0.5 || !kb.lastOpts.Rerank {
		t.Errorf("opts = %+v", kb.lastOpts)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	base := startServer(t, config.GatewayConfig{}, knowledgeDeps(&fakeKnowledge{}))

	resp, err := http.Get(base + "/data/search")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDataEndpointsWithoutKnowledge(t *testing.T) {
	base := startServer(t, config.GatewayConfig{}, defaultDeps(&fakeRunner{}))

	resp, err := http.Get(base + "/data")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}
