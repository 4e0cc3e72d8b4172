// Package gateway exposes the agent and knowledge base over HTTP. Chat
// responses stream as newline-delimited JSON chunks.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
	"nimbus/internal/infra/middleware"
	"nimbus/internal/usecase"
)

// AgentRunner is the slice of the agent the gateway drives.
type AgentRunner interface {
	Submit(ctx context.Context, threadID, text string) (<-chan usecase.AgentEvent, error)
	ResolveDecision(ctx context.Context, threadID string, approve bool) (<-chan usecase.AgentEvent, error)
}

// Server is the HTTP gateway.
type Server struct {
	agent     AgentRunner
	llm       domain.LLMProvider
	registry  domain.ToolRegistry
	knowledge domain.KnowledgeStore
	bus       domain.EventBus
	cfg       config.GatewayConfig
	models    []string
	logger    *slog.Logger
	stats     *busStats

	httpSrv   *http.Server
	boundAddr string
}

// Deps bundles the gateway's dependencies. Knowledge may be nil when
// the knowledge base is disabled; Bus may be nil when lifecycle events
// are not published.
type Deps struct {
	Agent     AgentRunner
	LLM       domain.LLMProvider
	Registry  domain.ToolRegistry
	Knowledge domain.KnowledgeStore
	Bus       domain.EventBus
	Models    []string
	Logger    *slog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	return &Server{
		agent:     deps.Agent,
		llm:       deps.LLM,
		registry:  deps.Registry,
		knowledge: deps.Knowledge,
		bus:       deps.Bus,
		cfg:       cfg,
		models:    deps.Models,
		logger:    deps.Logger,
		stats:     newBusStats(),
	}
}

// Start begins serving. Blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/resolve", s.handleResolve)
	mux.HandleFunc("GET /chat/models", s.handleModels)
	mux.HandleFunc("POST /chat/call", s.handleCall)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /data", s.handleCreateCollection)
	mux.HandleFunc("GET /data", s.handleListCollections)
	mux.HandleFunc("DELETE /data/{id}", s.handleDeleteCollection)
	mux.HandleFunc("POST /data/{id}/ingest", s.handleIngest)
	mux.HandleFunc("DELETE /data/{id}/files/{fileID}", s.handleDeleteFile)
	mux.HandleFunc("GET /data/search", s.handleSearch)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /stats", s.handleStats)

	if s.bus != nil {
		unsub := s.bus.SubscribeAll(s.stats.record)
		defer unsub()
	}

	var handler http.Handler = mux
	handler = s.logRequests(handler)
	if s.cfg.RequestsPerMin > 0 {
		handler = middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.BurstSize)(handler)
	}
	handler = middleware.BearerAuth(s.cfg.Tokens)(handler)
	handler = middleware.SecurityHeaders(handler)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:     handler,
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout stays unset: chat responses stream for the
		// whole agent turn.
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- response helpers ---

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error(), Code: string(domain.ErrorCodeOf(err))})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
