package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateStore(cfg, ve)
	validateTools(cfg, ve)
	validateKnowledge(cfg, ve)
	validateGateway(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.Timeout <= 0 {
		ve.Add("agent.timeout must be > 0")
	}
	if cfg.Agent.SystemPrompt == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
	if cfg.Agent.History.MaxRounds < 0 {
		ve.Add("agent.history.max_rounds must be >= 0")
	}
	if cfg.Agent.History.MaxTokens < 0 {
		ve.Add("agent.history.max_tokens must be >= 0")
	}
	if cfg.Agent.History.MaxTokens > 0 && cfg.Agent.History.Encoding == "" {
		ve.Add("agent.history.encoding is required when max_tokens is set")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): base_url must not be empty", i, p.Name)
		}
		if p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via NIMBUS_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
}

var validStoreBackends = map[string]bool{
	"memory": true,
	"sqlite": true,
}

func validateStore(cfg *Config, ve *ValidationError) {
	if !validStoreBackends[cfg.Store.Backend] {
		ve.Add("store.backend %q is invalid (want: memory, sqlite)", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		ve.Add("store.path is required when backend is sqlite")
	}
}

var validSearchBackends = map[string]bool{
	"tavily": true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.Weather.Enabled {
		if cfg.Tools.Weather.APIKey == "" {
			ve.Add("tools.weather.api_key is required when weather is enabled (set via NIMBUS_TOOLS_WEATHER_API_KEY)")
		}
		if cfg.Tools.Weather.BaseURL == "" {
			ve.Add("tools.weather.base_url must not be empty when weather is enabled")
		}
		if cfg.Tools.Weather.Timeout <= 0 {
			ve.Add("tools.weather.timeout must be > 0 when weather is enabled")
		}
		if cfg.Tools.Weather.DBPath == "" {
			ve.Add("tools.weather.db_path must not be empty when weather is enabled")
		}
	}
	if cfg.Tools.WebSearch.Enabled {
		if !validSearchBackends[cfg.Tools.WebSearch.Backend] {
			ve.Add("tools.web_search.backend %q is invalid (want: tavily)", cfg.Tools.WebSearch.Backend)
		}
		if cfg.Tools.WebSearch.APIKey == "" {
			ve.Add("tools.web_search.api_key is required when web_search is enabled (set via NIMBUS_TOOLS_WEB_SEARCH_API_KEY)")
		}
		if cfg.Tools.WebSearch.MaxResults <= 0 {
			ve.Add("tools.web_search.max_results must be > 0 when web_search is enabled")
		}
	}
}

func validateKnowledge(cfg *Config, ve *ValidationError) {
	if !cfg.Knowledge.Enabled {
		return
	}
	if cfg.Knowledge.DBPath == "" {
		ve.Add("knowledge.db_path must not be empty when knowledge is enabled")
	}
	if cfg.Knowledge.ChunkSize <= 0 {
		ve.Add("knowledge.chunk_size must be > 0 when knowledge is enabled")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		ve.Add("knowledge.chunk_overlap must be >= 0 and < chunk_size")
	}
	if cfg.Knowledge.TopK <= 0 {
		ve.Add("knowledge.top_k must be > 0 when knowledge is enabled")
	}
	if cfg.Knowledge.Embedding.BaseURL == "" {
		ve.Add("knowledge.embedding.base_url is required when knowledge is enabled")
	}
	if cfg.Knowledge.Embedding.Model == "" {
		ve.Add("knowledge.embedding.model is required when knowledge is enabled")
	}
	if cfg.Knowledge.Embedding.Dimensions <= 0 {
		ve.Add("knowledge.embedding.dimensions must be > 0 when knowledge is enabled")
	}
	if cfg.Knowledge.Reranker.Enabled && cfg.Knowledge.Reranker.BaseURL == "" {
		ve.Add("knowledge.reranker.base_url is required when reranker is enabled")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.RequestsPerMin <= 0 {
		ve.Add("gateway.requests_per_min must be > 0 when gateway is enabled")
	}
	if cfg.Gateway.BurstSize <= 0 {
		ve.Add("gateway.burst_size must be > 0 when gateway is enabled")
	}
}
