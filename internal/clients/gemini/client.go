// Package gemini provides an embedding client for the Google Gemini API
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
)

const (
	DefaultModel      = "gemini-embedding-001"
	DefaultDimensions = 768
	DefaultTaskType   = "RETRIEVAL_DOCUMENT"
	maxBatchSize      = 100
)

// Client implements interfaces.Embedder on top of the genai SDK
type Client struct {
	client     *genai.Client
	model      string
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

// WithDimensions sets the requested output dimensionality
func WithDimensions(dims int) ClientOption {
	return func(c *Client) {
		if dims > 0 {
			c.dimensions = dims
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini embedding client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:     genaiClient,
		model:      DefaultModel,
		dimensions: DefaultDimensions,
		logger:     common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Name returns the embedding model name
func (c *Client) Name() string {
	return "gemini:" + c.model
}

// Dimensions returns the requested vector length
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed returns one vector per text, in input order
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	c.logger.Debug().Str("model", c.model).Int("texts", len(texts)).Msg("Embedding content")

	dims := int32(c.dimensions)
	config := &genai.EmbedContentConfig{
		TaskType:             DefaultTaskType,
		OutputDimensionality: &dims,
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := min(i+maxBatchSize, len(texts))
		batch := texts[i:end]

		contents := make([]*genai.Content, len(batch))
		for j, text := range batch {
			contents[j] = genai.NewContentFromText(text, genai.RoleUser)
		}

		resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini embedding request failed: %w", err)
		}

		vectors, err := toVectors(resp, len(batch))
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}

	return out, nil
}

// toVectors unpacks a response, checking it carries exactly n embeddings
func toVectors(resp *genai.EmbedContentResponse, n int) ([][]float32, error) {
	if resp == nil {
		return nil, fmt.Errorf("gemini returned no response")
	}
	if len(resp.Embeddings) != n {
		return nil, fmt.Errorf("gemini returned %d embeddings, expected %d", len(resp.Embeddings), n)
	}
	vectors := make([][]float32, n)
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Ensure Client implements Embedder
var _ interfaces.Embedder = (*Client)(nil)
