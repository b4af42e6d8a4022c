package embeddings

import (
	"context"
	"fmt"
	"os"

	"github.com/ziadkadry99/cadence/internal/config"
)

// Embedder generates vectors for the semantic recall index.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// New returns the embedder for the configured provider. Without a provider
// the local hash embedder is used so recall still works offline.
func New(cfg *config.Config) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(cfg.Provider))
		if apiKey == "" {
			return nil, fmt.Errorf("%s environment variable is not set", config.APIKeyEnvVar(cfg.Provider))
		}
		return NewOpenAIEmbedder(apiKey, cfg.BaseURL, OpenAIModel(cfg.EmbeddingModel)), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.EmbeddingModel, 768, cfg.BaseURL), nil
	default:
		return NewHashEmbedder(256), nil
	}
}
