package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Provider != ProviderNone {
		t.Errorf("expected default provider %q, got %q", ProviderNone, cfg.Provider)
	}
	if cfg.Intensity != IntensityModerate {
		t.Errorf("expected default intensity %q, got %q", IntensityModerate, cfg.Intensity)
	}
	if cfg.Memory.WorkingWindow != 30*time.Minute {
		t.Errorf("expected working window 30m, got %v", cfg.Memory.WorkingWindow)
	}
	if cfg.Governor.DedupCooldown != 4*time.Hour {
		t.Errorf("expected dedup cooldown 4h, got %v", cfg.Governor.DedupCooldown)
	}
	if cfg.Stall.Thresholds != BaseStallThresholds {
		t.Errorf("expected base stall thresholds, got %+v", cfg.Stall.Thresholds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.cadence.yml")

	original := DefaultConfig()
	original.Provider = ProviderOpenAI
	original.Model = "gpt-4o"
	original.Intensity = IntensityHeavy
	original.DataDir = filepath.Join(dir, "data")
	original.Context.SilenceGap = 5 * time.Minute
	original.Server.Port = 9999

	// Save.
	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Load back.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify round-trip.
	if loaded.Provider != original.Provider {
		t.Errorf("provider: got %q, want %q", loaded.Provider, original.Provider)
	}
	if loaded.Model != "gpt-4o" {
		t.Errorf("model: got %q, want gpt-4o", loaded.Model)
	}
	if loaded.Intensity != IntensityHeavy {
		t.Errorf("intensity: got %q, want heavy", loaded.Intensity)
	}
	if loaded.Context.SilenceGap != 5*time.Minute {
		t.Errorf("silence gap: got %v, want 5m", loaded.Context.SilenceGap)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("port: got %d, want 9999", loaded.Server.Port)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Intensity != IntensityModerate {
		t.Errorf("expected defaults, got intensity %q", cfg.Intensity)
	}
}

func TestLoadHumanDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.yml")
	yml := "intensity: light\nmemory:\n  working_window: 45m\ngovernor:\n  dedup_cooldown: 2h\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.WorkingWindow != 45*time.Minute {
		t.Errorf("working window: got %v", cfg.Memory.WorkingWindow)
	}
	if cfg.Governor.DedupCooldown != 2*time.Hour {
		t.Errorf("dedup cooldown: got %v", cfg.Governor.DedupCooldown)
	}
	// Untouched nested values keep their defaults.
	if cfg.Memory.CompressAfter != 7*24*time.Hour {
		t.Errorf("compress_after: got %v", cfg.Memory.CompressAfter)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CADENCE_INTENSITY", "heavy")
	t.Setenv("CADENCE_SERVER__PORT", "7000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Intensity != IntensityHeavy {
		t.Errorf("intensity: got %q, want heavy", cfg.Intensity)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port: got %d, want 7000", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, true},
		{"unknown intensity", func(c *Config) { c.Intensity = "extreme" }, true},
		{"inverted thresholds", func(c *Config) { c.Capture.ConfirmThreshold = 0.95 }, true},
		{"zero working window", func(c *Config) { c.Memory.WorkingWindow = 0 }, true},
		{"bad briefing hour", func(c *Config) { c.Governor.BriefingHour = 24 }, true},
		{"provider without model", func(c *Config) { c.Provider = ProviderOpenAI; c.Model = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetProfile(t *testing.T) {
	light := GetProfile(IntensityLight)
	heavy := GetProfile(IntensityHeavy)
	if light.MaxDailyPrompts >= heavy.MaxDailyPrompts {
		t.Errorf("light should allow fewer prompts than heavy: %d vs %d", light.MaxDailyPrompts, heavy.MaxDailyPrompts)
	}
	if GetProfile("bogus").Level != IntensityModerate {
		t.Error("unknown level should fall back to moderate")
	}
	if GetProfile(IntensityModerate).StallThresholds != BaseStallThresholds {
		t.Error("moderate profile should use the base stall table")
	}
}
