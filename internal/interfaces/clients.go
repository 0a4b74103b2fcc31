package interfaces

import "context"

// EmbeddingClient converts text into fixed-dimension vectors. Implementations
// must be safe for concurrent use.
type EmbeddingClient interface {
	// EmbedDocuments embeds a batch of chunk texts in one call.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}
