package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to cadence! Let's set up your engine.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Inference provider.
	providerPrompt := promptui.Select{
		Label: "Select inference provider for extraction and summaries",
		Items: []string{
			"none    rule-based extraction only, no summaries",
			"openai  OpenAI API",
			"ollama  local Ollama server",
		},
	}
	providerIdx, _, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = []ProviderType{ProviderNone, ProviderOpenAI, ProviderOllama}[providerIdx]
	cfg.Model, cfg.EmbeddingModel = DefaultModel(cfg.Provider)
	if cfg.Provider == ProviderOllama {
		cfg.BaseURL = "http://localhost:11434"
	}

	// 2. Scaffolding intensity.
	intensityPrompt := promptui.Select{
		Label: "How often may cadence nudge you unprompted?",
		Items: []string{
			"light     at most 3 nudges a day",
			"moderate  at most 6 nudges a day",
			"heavy     at most 12 nudges a day",
		},
		CursorPos: 1,
	}
	intensityIdx, _, err := intensityPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("intensity selection: %w", err)
	}
	cfg.Intensity = []IntensityLevel{IntensityLight, IntensityModerate, IntensityHeavy}[intensityIdx]

	// 3. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory",
		Default: cfg.DataDir,
	}
	cfg.DataDir, err = dataPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	// 4. Morning briefing hour.
	hourPrompt := promptui.Prompt{
		Label:   "Morning briefing hour (0-23)",
		Default: strconv.Itoa(cfg.Governor.BriefingHour),
		Validate: func(s string) error {
			h, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || h < 0 || h > 23 {
				return fmt.Errorf("enter an hour between 0 and 23")
			}
			return nil
		},
	}
	hourStr, err := hourPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("briefing hour: %w", err)
	}
	cfg.Governor.BriefingHour, _ = strconv.Atoi(strings.TrimSpace(hourStr))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment (or .env) before running cadence serve.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}
