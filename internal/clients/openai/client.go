// Package openai provides an embedding client for the OpenAI API
package openai

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
)

const (
	DefaultModel = "text-embedding-3-small"
	maxBatchSize = 100
)

// modelDimensions lists native vector sizes for known models
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Client implements interfaces.Embedder using go-openai
type Client struct {
	client     *goopenai.Client
	model      string
	baseURL    string
	dimensions int
	logger     *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the embedding model
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new OpenAI embedding client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		model:  DefaultModel,
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	config := goopenai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		config.BaseURL = c.baseURL
	}
	c.client = goopenai.NewClientWithConfig(config)

	if dims, ok := modelDimensions[c.model]; ok {
		c.dimensions = dims
	} else {
		c.dimensions = modelDimensions[DefaultModel]
	}

	return c
}

// Name returns the embedding model name
func (c *Client) Name() string {
	return "openai:" + c.model
}

// Dimensions returns the model's vector length
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed returns one vector per text, in input order
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	c.logger.Debug().Str("model", c.model).Int("texts", len(texts)).Msg("Embedding content")

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := min(i+maxBatchSize, len(texts))
		batch := texts[i:end]

		resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input: batch,
			Model: goopenai.EmbeddingModel(c.model),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedding request failed: %w", err)
		}

		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai returned %d embeddings, expected %d", len(resp.Data), len(batch))
		}

		// Data carries its own index; don't assume response order
		vectors := make([][]float32, len(batch))
		for _, emb := range resp.Data {
			if emb.Index < 0 || emb.Index >= len(batch) || vectors[emb.Index] != nil {
				return nil, fmt.Errorf("openai returned invalid embedding index %d", emb.Index)
			}
			vectors[emb.Index] = emb.Embedding
		}
		out = append(out, vectors...)
	}

	return out, nil
}

// Ensure Client implements Embedder
var _ interfaces.Embedder = (*Client)(nil)
