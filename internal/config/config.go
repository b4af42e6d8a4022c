package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "CADENCE_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (CADENCE_*). Nested keys use a double
// underscore: CADENCE_SERVER__PORT sets server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model, _ = DefaultModel(cfg.Provider)
	}
	if cfg.EmbeddingModel == "" {
		_, cfg.EmbeddingModel = DefaultModel(cfg.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized provider values.
var validProviders = map[ProviderType]bool{
	ProviderNone:   true,
	ProviderOpenAI: true,
	ProviderOllama: true,
}

// validLogLevels mirrors the levels zap understands.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of none, openai, ollama", c.Provider)
	}
	if c.Provider != ProviderNone && c.Model == "" {
		return fmt.Errorf("model is required for provider %q", c.Provider)
	}
	if _, ok := profiles[c.Intensity]; !ok {
		return fmt.Errorf("invalid intensity %q: must be one of light, moderate, heavy", c.Intensity)
	}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Capture.ConfirmThreshold <= 0 || c.Capture.DirectThreshold > 1 ||
		c.Capture.ConfirmThreshold >= c.Capture.DirectThreshold {
		return fmt.Errorf("capture thresholds must satisfy 0 < confirm_threshold < direct_threshold <= 1")
	}

	windows := map[string]int64{
		"capture.triage_timeout":      int64(c.Capture.TriageTimeout),
		"context.silence_gap":         int64(c.Context.SilenceGap),
		"context.retention":           int64(c.Context.Retention),
		"stall.scan_interval":         int64(c.Stall.ScanInterval),
		"memory.working_window":       int64(c.Memory.WorkingWindow),
		"memory.compress_after":       int64(c.Memory.CompressAfter),
		"memory.prune_after":          int64(c.Memory.PruneAfter),
		"memory.fact_decay_window":    int64(c.Memory.FactDecayWindow),
		"memory.recency_half_life":    int64(c.Memory.RecencyHalfLife),
		"governor.dedup_cooldown":     int64(c.Governor.DedupCooldown),
		"scheduler.tick":              int64(c.Scheduler.Tick),
		"scheduler.reminder_interval": int64(c.Scheduler.ReminderInterval),
	}
	for name, v := range windows {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Context.BreadcrumbLimit <= 0 {
		return fmt.Errorf("context.breadcrumb_limit must be positive")
	}
	if c.Governor.BriefingHour < 0 || c.Governor.BriefingHour > 23 {
		return fmt.Errorf("governor.briefing_hour must be between 0 and 23")
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be non-negative")
	}
	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
