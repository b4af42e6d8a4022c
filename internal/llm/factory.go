package llm

import (
	"fmt"
	"os"

	"github.com/ziadkadry99/cadence/internal/config"
)

// DefaultOllamaHost is used when neither base_url nor OLLAMA_HOST is set.
const DefaultOllamaHost = "http://localhost:11434"

// NewProvider creates the inference provider named in cfg, wrapped in the
// configured rate limit. It returns nil, nil for provider "none".
func NewProvider(cfg *config.Config) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil

	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(cfg.Provider))
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable is not set", config.APIKeyEnvVar(cfg.Provider))
		}
		p = NewOpenAIProvider(apiKey, cfg.BaseURL, cfg.Model)

	case config.ProviderOllama:
		host := cfg.BaseURL
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = DefaultOllamaHost
		}
		p = NewOllamaProvider(host, cfg.Model)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		p = NewRateLimitedProvider(p, cfg.RequestsPerMinute)
	}
	return p, nil
}
