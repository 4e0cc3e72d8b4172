package main

import (
	"fmt"
	"log/slog"

	"nimbus/internal/adapter/embedding"
	"nimbus/internal/adapter/knowledge"
	"nimbus/internal/adapter/llm"
	"nimbus/internal/adapter/store"
	"nimbus/internal/adapter/tokenizer"
	"nimbus/internal/adapter/tool"
	"nimbus/internal/adapter/weatherstore"
	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
	"nimbus/internal/usecase"
	"nimbus/internal/usecase/eventbus"
)

// app holds the wired application components.
type app struct {
	agent     *usecase.Agent
	llm       domain.LLMProvider
	registry  *tool.Registry
	knowledge domain.KnowledgeStore
	bus       *eventbus.Bus
	models    []string
	closers   []func() error
}

// close releases resources in reverse wiring order.
func (a *app) close() {
	a.bus.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp wires every component from config.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{bus: eventbus.New(log)}

	// LLM provider
	provCfg, err := providerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var provider domain.LLMProvider = llm.NewOpenAIProvider(provCfg, log)
	if cfg.LLM.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, log)
	}
	a.llm = provider

	for _, p := range cfg.LLM.Providers {
		a.models = append(a.models, p.Model)
	}

	// Thread store
	var threads domain.ThreadStore
	switch cfg.Store.Backend {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("thread store: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		threads = st
	default:
		threads = store.NewMemoryStore()
	}

	// Tools
	registry := tool.NewRegistry(log)
	if err := registerTools(cfg, log, registry, a); err != nil {
		return nil, err
	}
	a.registry = registry

	// History windowing
	counter, err := tokenCounter(cfg)
	if err != nil {
		return nil, err
	}
	history := usecase.NewHistoryBuilder(
		cfg.Agent.SystemPrompt,
		provCfg.Model,
		cfg.Agent.History.MaxRounds,
		cfg.Agent.History.MaxTokens,
		counter,
	)

	a.agent = usecase.NewAgent(usecase.AgentDeps{
		LLM:           provider,
		Store:         threads,
		Registry:      registry,
		Executor:      usecase.NewToolExecutor(registry, log),
		History:       history,
		Logger:        log,
		Bus:           a.bus,
		MaxIterations: cfg.Agent.MaxIterations,
		Timeout:       cfg.Agent.Timeout,
	})
	return a, nil
}

// providerConfig returns the configured default provider.
func providerConfig(cfg *config.Config) (config.ProviderConfig, error) {
	for _, p := range cfg.LLM.Providers {
		if p.Name == cfg.LLM.DefaultProvider {
			return p, nil
		}
	}
	if len(cfg.LLM.Providers) == 1 {
		return cfg.LLM.Providers[0], nil
	}
	return config.ProviderConfig{}, fmt.Errorf("%w: default provider %q not configured",
		domain.ErrConfigLoad, cfg.LLM.DefaultProvider)
}

func registerTools(cfg *config.Config, log *slog.Logger, registry *tool.Registry, a *app) error {
	if cfg.Tools.Weather.Enabled {
		weather := tool.NewWeatherTool(cfg.Tools.Weather, log)
		if err := registry.Register(weather, domain.SensitivityAuto); err != nil {
			return err
		}

		wstore, err := weatherstore.New(cfg.Tools.Weather.DBPath)
		if err != nil {
			return fmt.Errorf("weather store: %w", err)
		}
		a.closers = append(a.closers, wstore.Close)

		if err := registry.Register(tool.NewInsertWeatherTool(wstore, weather, log), domain.SensitivityAuto); err != nil {
			return err
		}
		if err := registry.Register(tool.NewQueryWeatherTool(wstore, log), domain.SensitivityAuto); err != nil {
			return err
		}
		// Deletion is destructive, so it goes behind the approval gate.
		if err := registry.Register(tool.NewDeleteWeatherTool(wstore, log), domain.SensitivityGated); err != nil {
			return err
		}
	}

	if cfg.Tools.WebSearch.Enabled {
		ws := cfg.Tools.WebSearch
		backend := tool.NewTavilyBackend(ws.APIKey, ws.BaseURL, ws.Timeout, log)
		search := tool.NewWebSearchTool(backend, ws.CacheTTL, log)
		if err := registry.Register(search, domain.SensitivityAuto); err != nil {
			return err
		}
	}

	if cfg.Knowledge.Enabled {
		embedder := embedding.NewOpenAIProvider(cfg.Knowledge.Embedding)

		var reranker domain.Reranker
		if cfg.Knowledge.Reranker.Enabled {
			reranker = knowledge.NewHTTPReranker(cfg.Knowledge.Reranker)
		}

		kstore, err := knowledge.New(cfg.Knowledge.DBPath, embedder, reranker, log)
		if err != nil {
			return fmt.Errorf("knowledge store: %w", err)
		}
		a.closers = append(a.closers, kstore.Close)
		a.knowledge = kstore

		kbTool := tool.NewKnowledgeSearchTool(kstore, cfg.Knowledge.TopK, log)
		if err := registry.Register(kbTool, domain.SensitivityAuto); err != nil {
			return err
		}
	}

	return nil
}

// tokenCounter builds the tiktoken counter backing the history token
// budget. With no budget configured the counter is skipped entirely.
func tokenCounter(cfg *config.Config) (domain.TokenCounter, error) {
	if cfg.Agent.History.MaxTokens <= 0 {
		return nil, nil
	}
	counter, err := tokenizer.New(cfg.Agent.History.Encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	return counter, nil
}
