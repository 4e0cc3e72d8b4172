package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Tools     ToolsConfig     `yaml:"tools"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// AgentConfig holds agent loop behavior settings.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
	History       HistoryConfig `yaml:"history"`
}

// HistoryConfig controls the context window sent to the model.
type HistoryConfig struct {
	MaxRounds int    `yaml:"max_rounds"` // user turns kept, 0 = unlimited
	MaxTokens int    `yaml:"max_tokens"` // token budget, 0 = unlimited
	Encoding  string `yaml:"encoding"`   // tiktoken encoding name
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a single OpenAI-compatible provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// StoreConfig holds conversation persistence settings.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	Path    string `yaml:"path"`    // sqlite file path
}

// ToolsConfig holds tool system settings.
type ToolsConfig struct {
	Weather   WeatherConfig   `yaml:"weather"`
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WeatherConfig holds weather tool settings.
type WeatherConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	DBPath  string        `yaml:"db_path"`
}

// WebSearchConfig holds web search tool settings.
type WebSearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // "tavily"
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxResults int           `yaml:"max_results"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Timeout    time.Duration `yaml:"timeout"`
}

// KnowledgeConfig holds knowledge base settings.
type KnowledgeConfig struct {
	Enabled      bool            `yaml:"enabled"`
	DBPath       string          `yaml:"db_path"`
	ChunkSize    int             `yaml:"chunk_size"`
	ChunkOverlap int             `yaml:"chunk_overlap"`
	TopK         int             `yaml:"top_k"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
	Reranker     RerankerConfig  `yaml:"reranker"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RerankerConfig holds reranker service settings.
type RerankerConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	Tokens         []string      `yaml:"tokens,omitempty"` // static bearer tokens, empty = no auth
	RequestsPerMin int           `yaml:"requests_per_min"`
	BurstSize      int           `yaml:"burst_size"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.nimbus/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".nimbus", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Agent: AgentConfig{
			MaxIterations: 10,
			Timeout:       120 * time.Second,
			SystemPrompt:  "You are nimbus, a helpful AI assistant.",
			History: HistoryConfig{
				MaxRounds: 20,
				MaxTokens: 0,
				Encoding:  "cl100k_base",
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dataDir, "threads.db"),
		},
		Tools: ToolsConfig{
			Weather: WeatherConfig{
				Enabled: false,
				BaseURL: "https://api.openweathermap.org",
				Timeout: 10 * time.Second,
				DBPath:  filepath.Join(dataDir, "weather.db"),
			},
			WebSearch: WebSearchConfig{
				Enabled:    false,
				Backend:    "tavily",
				BaseURL:    "https://api.tavily.com",
				MaxResults: 5,
				CacheTTL:   15 * time.Minute,
				Timeout:    15 * time.Second,
			},
		},
		Knowledge: KnowledgeConfig{
			Enabled:      false,
			DBPath:       filepath.Join(dataDir, "knowledge.db"),
			ChunkSize:    800,
			ChunkOverlap: 100,
			TopK:         5,
			Embedding: EmbeddingConfig{
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
			},
			Reranker: RerankerConfig{
				Enabled: false,
				Timeout: 15 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Gateway: GatewayConfig{
			Enabled:        false,
			Addr:           ":8090",
			RequestsPerMin: 120,
			BurstSize:      30,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file is not an error; defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps NIMBUS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NIMBUS_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("NIMBUS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("NIMBUS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("NIMBUS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("NIMBUS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("NIMBUS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("NIMBUS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("NIMBUS_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("NIMBUS_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agent.Timeout = d
		}
	}
	if v := os.Getenv("NIMBUS_AGENT_SYSTEM_PROMPT"); v != "" {
		cfg.Agent.SystemPrompt = v
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEATHER_ENABLED"); v == "true" {
		cfg.Tools.Weather.Enabled = true
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEATHER_API_KEY"); v != "" {
		cfg.Tools.Weather.APIKey = v
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEATHER_BASE_URL"); v != "" {
		cfg.Tools.Weather.BaseURL = v
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEATHER_DB_PATH"); v != "" {
		cfg.Tools.Weather.DBPath = v
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEB_SEARCH_ENABLED"); v == "true" {
		cfg.Tools.WebSearch.Enabled = true
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEB_SEARCH_API_KEY"); v != "" {
		cfg.Tools.WebSearch.APIKey = v
	}
	if v := os.Getenv("NIMBUS_TOOLS_WEB_SEARCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.WebSearch.CacheTTL = d
		}
	}
	if v := os.Getenv("NIMBUS_KNOWLEDGE_ENABLED"); v == "true" {
		cfg.Knowledge.Enabled = true
	}
	if v := os.Getenv("NIMBUS_KNOWLEDGE_DB_PATH"); v != "" {
		cfg.Knowledge.DBPath = v
	}
	if v := os.Getenv("NIMBUS_EMBEDDING_BASE_URL"); v != "" {
		cfg.Knowledge.Embedding.BaseURL = v
	}
	if v := os.Getenv("NIMBUS_EMBEDDING_API_KEY"); v != "" {
		cfg.Knowledge.Embedding.APIKey = v
	}
	if v := os.Getenv("NIMBUS_EMBEDDING_MODEL"); v != "" {
		cfg.Knowledge.Embedding.Model = v
	}
	if v := os.Getenv("NIMBUS_RERANKER_BASE_URL"); v != "" {
		cfg.Knowledge.Reranker.BaseURL = v
		cfg.Knowledge.Reranker.Enabled = true
	}
	if v := os.Getenv("NIMBUS_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("NIMBUS_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("NIMBUS_GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Tokens = splitAndTrim(v, ",")
	}

	// Per-provider API key overrides: NIMBUS_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("NIMBUS_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(cfg.LLM.Providers[i].Name))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace, dropping empty parts.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
