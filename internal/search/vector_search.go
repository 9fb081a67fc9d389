package search

import (
	"fmt"
	"log/slog"

	"github.com/mparland/mem-cli/internal/indexstore"
	"github.com/mparland/mem-cli/internal/models"
)

// Hit is one ranked search result.
type Hit struct {
	ChunkID   string
	FilePath  string
	LineStart int
	LineEnd   int
	Score     float64
	Snippet   string
}

// SearchVector implements spec.md §4.5: prefer a single SQL statement
// joining the vector table and the chunk table ordering by ascending
// cosine distance; fall back to brute-force in-process cosine
// similarity when the vector table is unavailable.
func SearchVector(store *indexstore.Store, queryVec []float32, k int, model string, snippetMaxChars int, logger *slog.Logger) ([]Hit, error) {
	if len(queryVec) == 0 || k <= 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	if store.VectorReady() {
		hits, err := searchViaVectorTable(store, queryVec, k, model, snippetMaxChars)
		if err != nil {
			return nil, fmt.Errorf("search: vector table query: %w", err)
		}
		return hits, nil
	}
	return searchBruteForce(store, queryVec, k, model, snippetMaxChars, logger)
}

func searchViaVectorTable(store *indexstore.Store, queryVec []float32, k int, model string, snippetMaxChars int) ([]Hit, error) {
	args := []any{Float32ToBytes(queryVec)}
	modelFilter := ""
	if model != "" {
		modelFilter = " AND c.model = ?"
		args = append(args, model)
	}
	args = append(args, k)

	q := fmt.Sprintf(`
		SELECT c.id, c.file_path, c.line_start, c.line_end, c.content, vec_distance_cosine(v.embedding, ?) AS distance
		FROM %s v
		JOIN chunks c ON c.id = v.id
		WHERE 1 = 1%s
		ORDER BY distance ASC
		LIMIT ?
	`, indexstore.VectorTableName(), modelFilter)

	rows, err := store.DB().Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var content string
		var distance float64
		if err := rows.Scan(&h.ChunkID, &h.FilePath, &h.LineStart, &h.LineEnd, &content, &distance); err != nil {
			return nil, err
		}
		h.Score = 1 - distance
		h.Snippet = snippet(content, snippetMaxChars)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func searchBruteForce(store *indexstore.Store, queryVec []float32, k int, model string, snippetMaxChars int, logger *slog.Logger) ([]Hit, error) {
	q := `SELECT id, file_path, line_start, line_end, content, embedding FROM chunks`
	args := []any{}
	if model != "" {
		q += ` WHERE model = ?`
		args = append(args, model)
	}

	rows, err := store.DB().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: brute force query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		hit   Hit
		score float64
	}
	var all []scored
	warnedThisSearch := false

	for rows.Next() {
		var id, filePath, content string
		var lineStart, lineEnd int
		var embeddingJSON []byte
		if err := rows.Scan(&id, &filePath, &lineStart, &lineEnd, &content, &embeddingJSON); err != nil {
			return nil, err
		}
		vec, err := models.DecodeVector(embeddingJSON)
		if err != nil {
			continue
		}

		var score float64
		if len(vec) != len(queryVec) {
			score = 0
			if !warnedThisSearch {
				logger.Warn("search: chunk embedding dimension mismatch, scoring zero", "chunk_id", id, "got", len(vec), "want", len(queryVec))
				warnedThisSearch = true
			}
		} else {
			score = CosineSimilarity(vec, queryVec)
		}

		all = append(all, scored{
			hit: Hit{
				ChunkID:   id,
				FilePath:  filePath,
				LineStart: lineStart,
				LineEnd:   lineEnd,
				Score:     score,
				Snippet:   snippet(content, snippetMaxChars),
			},
			score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j-1].score < all[j].score; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}

	if len(all) > k {
		all = all[:k]
	}
	hits := make([]Hit, len(all))
	for i, s := range all {
		hits[i] = s.hit
	}
	return hits, nil
}

func snippet(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	return content[:maxChars]
}

