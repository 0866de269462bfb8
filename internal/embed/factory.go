package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// ProviderType identifies an embedding backend.
type ProviderType string

const (
	// ProviderStatic is the offline hashing embedder.
	ProviderStatic ProviderType = "static"
	// ProviderOllama is a local Ollama server.
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider converts a config string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderStatic, "":
		return ProviderStatic, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("unknown embeddings provider %q (use: static, ollama)", s)
	}
}

// NewFromConfig builds the configured embedder, wrapped in a CachedEmbedder
// unless cfg.CacheSize is 0.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch provider {
	case ProviderOllama:
		inner, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:      cfg.Host,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
	default:
		inner = NewStaticEmbedder(cfg.Dimensions)
	}

	slog.Debug("embedder_ready",
		slog.String("provider", string(provider)),
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))

	if cfg.CacheSize == 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
