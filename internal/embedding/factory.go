package embedding

import (
	"context"
	"fmt"
	"log"

	"github.com/lazypower/mnemo/internal/config"
)

// FromConfig builds the configured provider, wrapped in the cache (when
// enabled) and the guard. The returned close func releases cache resources.
func FromConfig(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, func(), error) {
	var base Embedder
	switch cfg.Provider {
	case "hash", "":
		base = NewHashEmbedder(cfg.Dimensions)
	case "ollama":
		url := cfg.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		if !ProbeOllama(url, cfg.Model) {
			log.Printf("embedding: ollama at %s not reachable, embeds will fail until it is", url)
		}
		base = NewOllamaEmbedder(url, cfg.Model, cfg.Dimensions)
	case "openai":
		base = NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dimensions)
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		base = g
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	closeFn := func() {}
	if cfg.CacheSize > 0 {
		c, err := NewCached(base, cfg.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		base = c
		closeFn = c.Close
	}
	return Guarded(base, cfg.Dimensions, cfg.Timeout.Duration), closeFn, nil
}
