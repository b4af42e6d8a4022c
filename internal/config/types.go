package config

import "time"

// ProviderType identifies the inference backend used for extraction and
// summarization.
type ProviderType string

const (
	ProviderNone   ProviderType = "none"
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

// IntensityLevel names a scaffolding profile.
type IntensityLevel string

const (
	IntensityLight    IntensityLevel = "light"
	IntensityModerate IntensityLevel = "moderate"
	IntensityHeavy    IntensityLevel = "heavy"
)

// StallThresholds are the idle-day limits per entity type.
type StallThresholds struct {
	Task        int `yaml:"task" koanf:"task"`
	ProjectTask int `yaml:"project_task" koanf:"project_task"`
	Project     int `yaml:"project" koanf:"project"`
	Commitment  int `yaml:"commitment" koanf:"commitment"`
}

// Profile bounds how much unsolicited output the engine may produce.
type Profile struct {
	Level            IntensityLevel  `yaml:"level" koanf:"level"`
	MaxDailyPrompts  int             `yaml:"max_daily_prompts" koanf:"max_daily_prompts"`
	MinPromptSpacing time.Duration   `yaml:"min_prompt_spacing" koanf:"min_prompt_spacing"`
	StallThresholds  StallThresholds `yaml:"stall_threshold_days" koanf:"stall_threshold_days"`
	DefaultSnooze    time.Duration   `yaml:"default_snooze_duration" koanf:"default_snooze_duration"`
}

// Config is the top-level cadence configuration, corresponding to .cadence.yml.
type Config struct {
	DataDir           string          `yaml:"data_dir" koanf:"data_dir"`
	LogLevel          string          `yaml:"log_level" koanf:"log_level"`
	LogDevelopment    bool            `yaml:"log_development" koanf:"log_development"`
	Provider          ProviderType    `yaml:"provider" koanf:"provider"`
	Model             string          `yaml:"model" koanf:"model"`
	BaseURL           string          `yaml:"base_url" koanf:"base_url"`
	EmbeddingModel    string          `yaml:"embedding_model" koanf:"embedding_model"`
	RequestsPerMinute int             `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	Intensity         IntensityLevel  `yaml:"intensity" koanf:"intensity"`
	Server            ServerConfig    `yaml:"server" koanf:"server"`
	Redis             RedisConfig     `yaml:"redis" koanf:"redis"`
	Capture           CaptureConfig   `yaml:"capture" koanf:"capture"`
	Context           ContextConfig   `yaml:"context" koanf:"context"`
	Stall             StallConfig     `yaml:"stall" koanf:"stall"`
	Memory            MemoryConfig    `yaml:"memory" koanf:"memory"`
	Governor          GovernorConfig  `yaml:"governor" koanf:"governor"`
	Scheduler         SchedulerConfig `yaml:"scheduler" koanf:"scheduler"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port" koanf:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" koanf:"allowed_origins"`
}

// RedisConfig enables the Redis event sink when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url" koanf:"url"`
	Channel string `yaml:"channel" koanf:"channel"`
}

// CaptureConfig tunes the ingestion pipeline.
type CaptureConfig struct {
	DirectThreshold       float64       `yaml:"direct_threshold" koanf:"direct_threshold"`
	ConfirmThreshold      float64       `yaml:"confirm_threshold" koanf:"confirm_threshold"`
	TriageTimeout         time.Duration `yaml:"triage_timeout" koanf:"triage_timeout"`
	DefaultReminderOffset time.Duration `yaml:"default_reminder_offset" koanf:"default_reminder_offset"`
	WriteAttempts         int           `yaml:"write_attempts" koanf:"write_attempts"`
}

// ContextConfig tunes the active context tracker.
type ContextConfig struct {
	SilenceGap         time.Duration `yaml:"silence_gap" koanf:"silence_gap"`
	BreadcrumbLimit    int           `yaml:"breadcrumb_limit" koanf:"breadcrumb_limit"`
	Retention          time.Duration `yaml:"retention" koanf:"retention"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" koanf:"checkpoint_interval"`
}

// StallConfig tunes the stall detector.
type StallConfig struct {
	ScanInterval      time.Duration   `yaml:"scan_interval" koanf:"scan_interval"`
	Thresholds        StallThresholds `yaml:"thresholds" koanf:"thresholds"`
	CommitmentUrgency float64         `yaml:"commitment_urgency" koanf:"commitment_urgency"`
}

// MemoryConfig tunes layer transitions and retrieval.
type MemoryConfig struct {
	WorkingWindow   time.Duration `yaml:"working_window" koanf:"working_window"`
	CompressAfter   time.Duration `yaml:"compress_after" koanf:"compress_after"`
	PruneAfter      time.Duration `yaml:"prune_after" koanf:"prune_after"`
	MidRetention    time.Duration `yaml:"mid_retention" koanf:"mid_retention"`
	FactDecayWindow time.Duration `yaml:"fact_decay_window" koanf:"fact_decay_window"`
	FactDecayAmount float64       `yaml:"fact_decay_amount" koanf:"fact_decay_amount"`
	RecencyHalfLife time.Duration `yaml:"recency_half_life" koanf:"recency_half_life"`
	SemanticIndex   bool          `yaml:"semantic_index" koanf:"semantic_index"`
}

// GovernorConfig tunes the scaffolding governor.
type GovernorConfig struct {
	DedupCooldown time.Duration `yaml:"dedup_cooldown" koanf:"dedup_cooldown"`
	BriefingHour  int           `yaml:"briefing_hour" koanf:"briefing_hour"`
}

// SchedulerConfig controls the background run loop.
type SchedulerConfig struct {
	Tick             time.Duration `yaml:"tick" koanf:"tick"`
	ReminderInterval time.Duration `yaml:"reminder_interval" koanf:"reminder_interval"`
}
