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
	"generation": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("generation", cfg.Providers.Generation.Name)
	validateProviderName("generation", cfg.Providers.FallbackGeneration.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.Generation.Name == "" {
		errs = append(errs, errors.New("providers.generation is required; the engine cannot run without a generation backend"))
	}
	if cfg.Providers.FallbackGeneration.Name != "" && cfg.Providers.FallbackGeneration.Name == cfg.Providers.Generation.Name &&
		cfg.Providers.FallbackGeneration.Model == cfg.Providers.Generation.Model {
		slog.Warn("fallback generation provider is identical to the primary; failover will not help")
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; memory retrieval will use recency ordering only")
	}

	// Memory availability and tuning bounds
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; sessions and long-term memory will not persist")
	}
	if cfg.Memory.DecayFactor != 0 && (cfg.Memory.DecayFactor <= 0 || cfg.Memory.DecayFactor >= 1) {
		errs = append(errs, fmt.Errorf("memory.decay_factor %.3f is out of range (0, 1)", cfg.Memory.DecayFactor))
	}
	if cfg.Memory.MinStrength < 0 || cfg.Memory.MinStrength >= 1 {
		errs = append(errs, fmt.Errorf("memory.min_strength %.3f is out of range [0, 1)", cfg.Memory.MinStrength))
	}
	if cfg.Memory.MaxRecords < 0 {
		errs = append(errs, fmt.Errorf("memory.max_records %d must not be negative", cfg.Memory.MaxRecords))
	}

	// Engine tuning
	if cfg.Engine.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.history_limit %d must not be negative", cfg.Engine.HistoryLimit))
	}
	if cfg.Engine.GenerateTimeout < 0 || cfg.Engine.ReadTimeout < 0 {
		errs = append(errs, errors.New("engine timeouts must not be negative"))
	}

	// Works
	if cfg.Works.Dir == "" {
		errs = append(errs, errors.New("works.dir is required; the engine has nothing to play without works"))
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
