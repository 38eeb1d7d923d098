package embeddings

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/bobmcallan/vire-assistant/internal/clients/gemini"
	"github.com/bobmcallan/vire-assistant/internal/clients/openai"
	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
)

// Provider names accepted in embedding.provider
const (
	ProviderLocal  = "local"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// New builds the embedder selected by config. A remote provider without an
// API key falls back to the local embedder.
func New(ctx context.Context, config *common.Config, logger *common.Logger) (interfaces.Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Embedding.Provider))

	switch provider {
	case "", ProviderLocal:
		return NewLocalEmbedder(config.Embedding.Dimensions), nil

	case ProviderGemini:
		apiKey, err := common.ResolveAPIKey(ctx, "gemini_api_key", config.Clients.Gemini.APIKey)
		if err != nil {
			logger.Warn().Err(err).Msg("Gemini API key not configured - using local embedder")
			return NewLocalEmbedder(config.Embedding.Dimensions), nil
		}
		client, err := gemini.NewClient(ctx, apiKey,
			gemini.WithModel(config.Clients.Gemini.EmbeddingModel),
			gemini.WithDimensions(config.Embedding.Dimensions),
			gemini.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedder: %w", err)
		}
		return client, nil

	case ProviderOpenAI:
		apiKey, err := common.ResolveAPIKey(ctx, "openai_api_key", config.Clients.OpenAI.APIKey)
		if err != nil {
			logger.Warn().Err(err).Msg("OpenAI API key not configured - using local embedder")
			return NewLocalEmbedder(config.Embedding.Dimensions), nil
		}
		return openai.NewClient(apiKey,
			openai.WithModel(config.Clients.OpenAI.EmbeddingModel),
			openai.WithBaseURL(config.Clients.OpenAI.BaseURL),
			openai.WithLogger(logger),
		), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// ToChromemFunc adapts an Embedder to chromem's single-text embedding func.
func ToChromemFunc(e interfaces.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		results, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(results) != 1 {
			return nil, fmt.Errorf("embedder returned %d vectors for one text", len(results))
		}
		return results[0], nil
	}
}
