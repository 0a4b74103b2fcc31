// Package gemini provides an embedding client for the Google Gemini API
package gemini

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/interfaces"
)

const (
	DefaultModel     = "text-embedding-004"
	DefaultDimension = 768
	DefaultRateLimit = 10 // requests per second
	DefaultTimeout   = 60 * time.Second
)

// Client implements the EmbeddingClient interface against the Gemini API.
type Client struct {
	client    *genai.Client
	model     string
	dimension int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *common.Logger
}

// Compile-time interface check
var _ interfaces.EmbeddingClient = (*Client)(nil)

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the embedding model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithDimension sets the expected embedding dimension
func WithDimension(dim int) ClientOption {
	return func(c *Client) {
		if dim > 0 {
			c.dimension = dim
		}
	}
}

// WithRateLimit sets the request rate limit (requests per second)
func WithRateLimit(rps int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}

// WithTimeout sets the per-call deadline
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
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
		client:    genaiClient,
		model:     DefaultModel,
		dimension: DefaultDimension,
		timeout:   DefaultTimeout,
		limiter:   rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:    common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Model returns the configured model id.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the embedding dimension for the configured model.
func (c *Client) Dimension() int {
	return c.dimension
}

// EmbedDocuments embeds a batch of chunk texts in a single API call.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{TaskType: taskType}

	c.logger.Debug().Str("model", c.model).Int("texts", len(texts)).Msg("Embedding batch")

	result, err := c.client.Models.EmbedContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "embedding call failed")
	}
	if len(result.Embeddings) != len(texts) {
		return nil, common.Internal("embedding count mismatch: got %d for %d texts", len(result.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, common.Internal("empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
