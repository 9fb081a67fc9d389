// Package embedcache implements the Embedding Cache & Batch Pipeline
// component (spec.md §4.2), grounded on the teacher's
// internal/embedding/cache.go (hash-then-cache-then-compute) and
// internal/store/embeddings.go (the upsert shape), generalized from
// "one embedding per call, keyed by content hash" to a batched pipeline
// keyed by (model, hash) that dedups and token-budgets misses before
// calling the provider.
package embedcache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mparland/mem-cli/internal/models"
)

// Store persists embedding cache rows, following
// EmbeddingCacheStore.Get/Put's upsert idiom but keyed by (model, hash)
// per spec.md §3 rather than the teacher's bare content_hash.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetBatch looks up (model, hash) pairs in batches bounded by
// batchSize, returning a map from hash to entry for every hit. Bounding
// batch size keeps SQL parameter counts under SQLite's limit, per
// spec.md §4.2 step 1.
func (s *Store) GetBatch(model string, hashes []string, batchSize int) (map[string]*models.EmbeddingCacheEntry, error) {
	if batchSize < 1 {
		batchSize = 500
	}
	out := make(map[string]*models.EmbeddingCacheEntry, len(hashes))

	for start := 0; start < len(hashes); start += batchSize {
		end := start + batchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)+1)
		args = append(args, model)
		for i, h := range batch {
			placeholders[i] = "?"
			args = append(args, h)
		}

		q := fmt.Sprintf(`
			SELECT hash, embedding, dims, updated_at
			FROM embedding_cache
			WHERE model = ? AND hash IN (%s)
		`, strings.Join(placeholders, ","))

		rows, err := s.db.Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("embedcache get batch: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				e := &models.EmbeddingCacheEntry{Model: model}
				if err := rows.Scan(&e.Hash, &e.Embedding, &e.Dims, &e.UpdatedAt); err != nil {
					return fmt.Errorf("scan embedding cache row: %w", err)
				}
				out[e.Hash] = e
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// PutBatch upserts cache rows inside a single transaction.
func (s *Store) PutBatch(entries []*models.EmbeddingCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("embedcache put batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO embedding_cache (model, hash, embedding, dims, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model, hash) DO UPDATE SET
			embedding = excluded.embedding,
			dims = excluded.dims,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("embedcache put batch: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if _, err := stmt.Exec(e.Model, e.Hash, e.Embedding, e.Dims, now); err != nil {
			return fmt.Errorf("embedcache put batch: exec: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of distinct (model, hash) rows, used by
// tests asserting the cache reuse invariant (spec.md §8 scenario 4).
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM embedding_cache`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("embedcache count: %w", err)
	}
	return n, nil
}
