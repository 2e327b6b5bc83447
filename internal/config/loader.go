package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; SAGE cannot extract intents or generate responses without a completion provider"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}

	// Embeddings ↔ graph dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Graph.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but graph.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Providers.Embeddings.Name == "" && cfg.Graph.PostgresDSN != "" {
		slog.Warn("graph.postgres_dsn is set but no embeddings provider is configured; concept similarity search will be unavailable")
	}

	// Graph availability
	if cfg.Graph.PostgresDSN == "" {
		slog.Warn("graph.postgres_dsn is empty; the learning graph will be held in memory and lost on restart")
	}

	// Dialogue tuning ranges
	if cfg.Dialogue.ConfidenceThreshold < 0 || cfg.Dialogue.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("dialogue.confidence_threshold %.2f is out of range [0, 1]", cfg.Dialogue.ConfidenceThreshold))
	}
	if cfg.Dialogue.PromptTokenBudget < 0 {
		errs = append(errs, fmt.Errorf("dialogue.prompt_token_budget %d must not be negative", cfg.Dialogue.PromptTokenBudget))
	}
	if cfg.Dialogue.MaxHistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_history_turns %d must not be negative", cfg.Dialogue.MaxHistoryTurns))
	}
	if cfg.Dialogue.SessionIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialogue.session_idle_timeout %s must not be negative", cfg.Dialogue.SessionIdleTimeout))
	}
	if cfg.Dialogue.ModelCallTimeout < 0 {
		errs = append(errs, fmt.Errorf("dialogue.model_call_timeout %s must not be negative", cfg.Dialogue.ModelCallTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
