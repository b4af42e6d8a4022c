package config

import (
	"os"
	"path/filepath"
	"time"
)

// BaseStallThresholds is the profile-less default threshold table.
var BaseStallThresholds = StallThresholds{
	Task:        3,
	ProjectTask: 5,
	Project:     7,
	Commitment:  2,
}

// profiles maps each intensity level to its scaffolding limits. The moderate
// profile uses the base stall table.
var profiles = map[IntensityLevel]Profile{
	IntensityLight: {
		Level:            IntensityLight,
		MaxDailyPrompts:  3,
		MinPromptSpacing: 3 * time.Hour,
		StallThresholds:  StallThresholds{Task: 5, ProjectTask: 7, Project: 10, Commitment: 3},
		DefaultSnooze:    48 * time.Hour,
	},
	IntensityModerate: {
		Level:            IntensityModerate,
		MaxDailyPrompts:  6,
		MinPromptSpacing: 90 * time.Minute,
		StallThresholds:  BaseStallThresholds,
		DefaultSnooze:    24 * time.Hour,
	},
	IntensityHeavy: {
		Level:            IntensityHeavy,
		MaxDailyPrompts:  12,
		MinPromptSpacing: 30 * time.Minute,
		StallThresholds:  StallThresholds{Task: 2, ProjectTask: 3, Project: 5, Commitment: 1},
		DefaultSnooze:    4 * time.Hour,
	},
}

// defaultModels holds the model choice per provider.
var defaultModels = map[ProviderType]struct {
	Model          string
	EmbeddingModel string
}{
	ProviderOpenAI: {Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
	ProviderOllama: {Model: "llama3", EmbeddingModel: "nomic-embed-text"},
}

// DefaultConfigFile is the config path used when --config is not given.
const DefaultConfigFile = ".cadence.yml"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".cadence"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".cadence")
	}
	return &Config{
		DataDir:           dataDir,
		LogLevel:          "info",
		Provider:          ProviderNone,
		RequestsPerMinute: 60,
		Intensity:         IntensityModerate,
		Server: ServerConfig{
			Port:           8420,
			AllowedOrigins: []string{"*"},
		},
		Redis: RedisConfig{
			Channel: "cadence.events",
		},
		Capture: CaptureConfig{
			DirectThreshold:       0.9,
			ConfirmThreshold:      0.7,
			TriageTimeout:         7 * 24 * time.Hour,
			DefaultReminderOffset: time.Hour,
			WriteAttempts:         3,
		},
		Context: ContextConfig{
			SilenceGap:         10 * time.Minute,
			BreadcrumbLimit:    20,
			Retention:          24 * time.Hour,
			CheckpointInterval: time.Minute,
		},
		Stall: StallConfig{
			ScanInterval:      24 * time.Hour,
			Thresholds:        BaseStallThresholds,
			CommitmentUrgency: 1.5,
		},
		Memory: MemoryConfig{
			WorkingWindow:   30 * time.Minute,
			CompressAfter:   7 * 24 * time.Hour,
			PruneAfter:      90 * 24 * time.Hour,
			MidRetention:    365 * 24 * time.Hour,
			FactDecayWindow: 4380 * time.Hour,
			FactDecayAmount: 0.1,
			RecencyHalfLife: 7 * 24 * time.Hour,
		},
		Governor: GovernorConfig{
			DedupCooldown: 4 * time.Hour,
			BriefingHour:  8,
		},
		Scheduler: SchedulerConfig{
			Tick:             time.Second,
			ReminderInterval: 30 * time.Second,
		},
	}
}

// GetProfile returns the scaffolding profile for the given level.
// Returns the moderate profile if the level is not recognized.
func GetProfile(level IntensityLevel) Profile {
	if p, ok := profiles[level]; ok {
		return p
	}
	return profiles[IntensityModerate]
}

// Valid reports whether l names a known profile.
func (l IntensityLevel) Valid() bool {
	_, ok := profiles[l]
	return ok
}

// DefaultModel returns the completion and embedding model for a provider.
func DefaultModel(provider ProviderType) (model, embeddingModel string) {
	m := defaultModels[provider]
	return m.Model, m.EmbeddingModel
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "cadence.db")
}
