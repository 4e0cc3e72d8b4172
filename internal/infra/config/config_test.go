package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validProviders() []ProviderConfig {
	return []ProviderConfig{{
		Name:    "openai",
		BaseURL: "https://api.openai.com/v1",
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
	}}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.History.Encoding != "cl100k_base" {
		t.Errorf("Encoding = %q", cfg.Agent.History.Encoding)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Gateway.Addr != ":8090" {
		t.Errorf("Gateway.Addr = %q", cfg.Gateway.Addr)
	}
	if cfg.Tools.Weather.Enabled || cfg.Tools.WebSearch.Enabled || cfg.Knowledge.Enabled {
		t.Error("optional features should default off")
	}
}

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("Validate(Defaults()) = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want default", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent:
  max_iterations: 3
  timeout: 45s
llm:
  default_provider: openai
  providers:
    - name: openai
      base_url: https://api.openai.com/v1
      api_key: sk-test
      model: gpt-4o-mini
store:
  backend: memory
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v", cfg.Agent.Timeout)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	// Untouched fields keep their defaults.
	if cfg.Agent.SystemPrompt == "" {
		t.Error("SystemPrompt default lost")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent:
  max_iterations: -1
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_iterations") {
		t.Errorf("err = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NIMBUS_LOGGER_LEVEL", "debug")
	t.Setenv("NIMBUS_STORE_BACKEND", "memory")
	t.Setenv("NIMBUS_AGENT_MAX_ITERATIONS", "7")
	t.Setenv("NIMBUS_GATEWAY_TOKENS", "tok1, tok2")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Agent.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if len(cfg.Gateway.Tokens) != 2 || cfg.Gateway.Tokens[1] != "tok2" {
		t.Errorf("Gateway.Tokens = %v", cfg.Gateway.Tokens)
	}
}

func TestProviderAPIKeyEnvOverride(t *testing.T) {
	t.Setenv("NIMBUS_LLM_PROVIDER_OPENAI_API_KEY", "sk-from-env")

	cfg := Defaults()
	cfg.LLM.Providers = validProviders()
	cfg.LLM.Providers[0].APIKey = ""
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.MaxIterations = 0
	cfg.Agent.SystemPrompt = ""
	cfg.Store.Backend = "postgres"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if len(ve.Errors) < 3 {
		t.Errorf("Errors = %v, want all three problems reported", ve.Errors)
	}
}

func TestValidateDefaultProviderMustExist(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "anthropic"
	cfg.LLM.Providers = validProviders()

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "default_provider") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateEnabledToolsNeedKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Weather.Enabled = true
	cfg.Tools.WebSearch.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "tools.weather.api_key") || !strings.Contains(msg, "tools.web_search.api_key") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateKnowledgeRequiresEmbedding(t *testing.T) {
	cfg := Defaults()
	cfg.Knowledge.Enabled = true

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "knowledge.embedding.base_url") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateGatewayAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Enabled = true
	cfg.Gateway.Addr = "no-port"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "gateway.addr") {
		t.Errorf("err = %v", err)
	}
}
