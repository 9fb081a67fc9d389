package embedcache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/mparland/mem-cli/internal/chunker"
	"github.com/mparland/mem-cli/internal/models"
	"github.com/mparland/mem-cli/internal/provider"
)

// Config bounds the batch pipeline, sourced from settings.Embeddings.
type Config struct {
	BatchMaxTokens       int
	ApproxCharsPerToken  int
	CacheLookupBatchSize int
}

// HashText computes the SHA-256 hex digest used as the cache key's hash
// component — chunker.Piece.Hash already carries this for chunk
// content, this helper exists for query text and anything chunked
// outside the chunker.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// Embed resolves one embedding per piece, reusing cached vectors and
// calling the provider only for cache misses, batched by estimated
// token count (spec.md §4.2). The returned slice matches pieces' order
// exactly. store may be nil to skip caching entirely (e.g. test doubles
// that want every call to hit the provider).
func Embed(ctx context.Context, pieces []chunker.Piece, p provider.Provider, store *Store, cfg Config) ([][]float32, error) {
	if len(pieces) == 0 {
		return nil, nil
	}
	if cfg.CacheLookupBatchSize < 1 {
		cfg.CacheLookupBatchSize = 500
	}
	if cfg.ApproxCharsPerToken < 1 {
		cfg.ApproxCharsPerToken = 4
	}
	if cfg.BatchMaxTokens < 1 {
		cfg.BatchMaxTokens = 2048
	}

	model := p.ModelPath()
	result := make([][]float32, len(pieces))

	// 1. Collect unique hashes and batch-lookup the cache.
	uniqueHashes := make([]string, 0, len(pieces))
	seen := make(map[string]bool, len(pieces))
	for _, piece := range pieces {
		if !seen[piece.Hash] {
			seen[piece.Hash] = true
			uniqueHashes = append(uniqueHashes, piece.Hash)
		}
	}

	cached := map[string]*models.EmbeddingCacheEntry{}
	if store != nil {
		var err error
		cached, err = store.GetBatch(model, uniqueHashes, cfg.CacheLookupBatchSize)
		if err != nil {
			return nil, fmt.Errorf("embedcache: lookup: %w", err)
		}
	}

	// 2. Determine which indices are missing (absent or empty embedding).
	var misses []missIdx
	for i, piece := range pieces {
		entry, ok := cached[piece.Hash]
		if !ok || entry.Dims == 0 || len(entry.Embedding) == 0 {
			misses = append(misses, missIdx{idx: i, text: piece.Content})
			continue
		}
		vec, err := models.DecodeVector(entry.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedcache: decode cached vector: %w", err)
		}
		result[i] = vec
	}

	if len(misses) == 0 {
		return result, nil
	}

	// 3. Group misses into token-budgeted batches.
	batches := batchByTokenBudget(misses, cfg.BatchMaxTokens, cfg.ApproxCharsPerToken)

	var toCache []*models.EmbeddingCacheEntry
	cachedHashByIdx := make(map[int]string, len(misses))
	for _, m := range misses {
		cachedHashByIdx[m.idx] = pieces[m.idx].Hash
	}

	for _, batch := range batches {
		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = m.text
		}
		vecs, err := p.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedcache: embed batch: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedcache: provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, m := range batch {
			result[m.idx] = vecs[i]
			hash := cachedHashByIdx[m.idx]
			toCache = append(toCache, &models.EmbeddingCacheEntry{
				Model:     model,
				Hash:      hash,
				Embedding: models.EncodeVector(vecs[i]),
				Dims:      len(vecs[i]),
			})
		}
	}

	if store != nil && len(toCache) > 0 {
		if err := store.PutBatch(toCache); err != nil {
			return nil, fmt.Errorf("embedcache: put batch: %w", err)
		}
	}

	return result, nil
}

// missIdx pairs a piece's original index with its text, for the pieces
// the cache lookup did not resolve.
type missIdx struct {
	idx  int
	text string
}

// estimateTokens mirrors spec.md §4.2's ceil(len(text)/approxCharsPerToken).
func estimateTokens(text string, approxCharsPerToken int) int {
	if approxCharsPerToken < 1 {
		approxCharsPerToken = 1
	}
	n := len(text)
	return (n + approxCharsPerToken - 1) / approxCharsPerToken
}

// batchByTokenBudget groups misses so that each batch's estimated total
// token count does not exceed batchMaxTokens. A single item whose own
// estimate exceeds the budget is a batch by itself (spec.md §4.2 step 3).
func batchByTokenBudget(misses []missIdx, batchMaxTokens, approxCharsPerToken int) [][]missIdx {
	var batches [][]missIdx
	var current []missIdx
	currentTokens := 0

	for _, m := range misses {
		tokens := estimateTokens(m.text, approxCharsPerToken)
		if tokens >= batchMaxTokens {
			if len(current) > 0 {
				batches = append(batches, current)
				current = nil
				currentTokens = 0
			}
			batches = append(batches, []missIdx{m})
			continue
		}
		if len(current) > 0 && currentTokens+tokens > batchMaxTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, m)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
