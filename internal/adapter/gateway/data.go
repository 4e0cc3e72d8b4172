package gateway

import (
	"net/http"
	"strconv"

	"nimbus/internal/domain"
)

func (s *Server) requireKnowledge(w http.ResponseWriter) bool {
	if s.knowledge == nil {
		writeError(w, http.StatusNotImplemented,
			domain.NewDomainError("gateway.data", domain.ErrKnowledgeStore, "knowledge base is disabled"))
		return false
	}
	return true
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Dimension   int    `json:"dimension,omitempty"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	var req createCollectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, err.Error()))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, "name must not be empty"))
		return
	}

	col, err := s.knowledge.CreateCollection(r.Context(), req.Name, req.Description, req.Dimension)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	cols, err := s.knowledge.ListCollections(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if cols == nil {
		cols = []domain.Collection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": cols})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	if err := s.knowledge.DeleteCollection(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type ingestRequest struct {
	FileName     string `json:"file_name"`
	Text         string `json:"text"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, err.Error()))
		return
	}
	if req.FileName == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, "file_name and text must not be empty"))
		return
	}

	fileID, err := s.knowledge.Ingest(r.Context(), r.PathValue("id"), req.FileName, req.Text, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"file_id": fileID})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	if err := s.knowledge.DeleteFile(r.Context(), r.PathValue("id"), r.PathValue("fileID")); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, "query must not be empty"))
		return
	}

	opts := domain.SearchOptions{}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, "top_k must be a positive integer"))
			return
		}
		opts.TopK = n
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.NewDomainError("gateway.data", domain.ErrInvalidInput, "threshold must be a number"))
			return
		}
		opts.DistanceThreshold = f
	}
	opts.Rerank = q.Get("rerank") == "true"

	hits, err := s.knowledge.Search(r.Context(), q.Get("collection_id"), query, opts)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}
