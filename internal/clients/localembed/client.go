// Package localembed provides a deterministic, dependency-free embedding
// client. Tokens are hashed into a fixed-dimension vector and normalized,
// so equal texts always produce equal vectors and related texts overlap.
// It is the default provider, letting the system run without an API key.
package localembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/vaultmind/vaultmind/internal/interfaces"
)

const DefaultDimension = 384

// Client implements the EmbeddingClient interface locally.
type Client struct {
	dimension int
}

// Compile-time interface check
var _ interfaces.EmbeddingClient = (*Client)(nil)

// NewClient creates a local embedding client. dimension <= 0 selects the
// default 384.
func NewClient(dimension int) *Client {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Client{dimension: dimension}
}

// Model returns the provider identifier.
func (c *Client) Model() string {
	return "local-hash"
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// EmbedDocuments embeds a batch of texts.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = c.encode(t)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.encode(text), nil
}

// encode hashes unigrams and bigrams into the vector and L2-normalizes.
func (c *Client) encode(text string) []float32 {
	vec := make([]float64, c.dimension)
	tokens := tokenize(text)

	add := func(term string, weight float64) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(c.dimension))
		// high bit decides sign so the vector is not all-positive
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[idx] += sign * weight
	}

	for i, tok := range tokens {
		add(tok, 1.0)
		if i+1 < len(tokens) {
			add(tok+"_"+tokens[i+1], 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, c.dimension)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
