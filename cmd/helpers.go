package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/engine"
	"github.com/ziadkadry99/cadence/internal/logging"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `cadence init` to create a config file", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug output in
// the console encoder.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if verbose {
		return logging.New("debug", true)
	}
	return logging.New(cfg.LogLevel, false)
}

// buildEngine loads config and builds the engine without restoring state.
// Long-running commands hand it to Engine.Run, which restores on start.
func buildEngine() (*engine.Engine, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.Open(cfg, engine.Options{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("opening engine: %w", err)
	}
	return e, logger, nil
}

// openEngine builds the engine and restores its persisted state for a
// one-shot command. The caller must Close it.
func openEngine(ctx context.Context) (*engine.Engine, *zap.Logger, error) {
	e, logger, err := buildEngine()
	if err != nil {
		return nil, nil, err
	}
	if err := e.Load(ctx); err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, logger, nil
}

// userError converts an engine error into the short message shown on the
// command line.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", apperr.UserMessage(err))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens a string to maxLen characters, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
