// Package provider models the EmbeddingProvider capability from
// spec.md §9's re-architecture note: a narrow interface
// { model_path(), embed_query(text), embed_batch(texts) }, with
// alternate implementations as separate types rather than the
// teacher's single polymorphic *OllamaClient.
package provider

import "context"

// Provider turns text into dense vectors.
type Provider interface {
	// ModelPath is the opaque, stable identifier of the active model;
	// persisted as the chunk's model column and used as the embedding
	// cache key component.
	ModelPath() string
	// EmbedQuery computes one vector for a query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch computes one vector per text, in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
