package embedcache

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mparland/mem-cli/internal/chunker"
	"github.com/mparland/mem-cli/internal/provider"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`
		CREATE TABLE embedding_cache (
			model TEXT NOT NULL,
			hash TEXT NOT NULL,
			embedding BLOB,
			dims INTEGER,
			updated_at INTEGER,
			PRIMARY KEY (model, hash)
		)
	`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

type countingProvider struct {
	*provider.MockProvider
	batchCalls int
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	return c.MockProvider.EmbedBatch(ctx, texts)
}

func TestEmbedCacheReuse(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	p := &countingProvider{MockProvider: &provider.MockProvider{Dims: 4}}
	cfg := Config{BatchMaxTokens: 2048, ApproxCharsPerToken: 4, CacheLookupBatchSize: 500}

	pieces := []chunker.Piece{
		{Content: "alpha", Hash: "h1"},
		{Content: "beta", Hash: "h2"},
	}

	vecs1, err := Embed(context.Background(), pieces, p, store, cfg)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs1) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs1))
	}
	if p.batchCalls == 0 {
		t.Fatalf("expected embedBatch to be called at least once")
	}
	firstCalls := p.batchCalls

	vecs2, err := Embed(context.Background(), pieces, p, store, cfg)
	if err != nil {
		t.Fatalf("embed again: %v", err)
	}
	if p.batchCalls != firstCalls {
		t.Fatalf("expected no new embedBatch calls on cache hit, calls went from %d to %d", firstCalls, p.batchCalls)
	}
	for i := range vecs1 {
		if len(vecs1[i]) != len(vecs2[i]) {
			t.Fatalf("expected identical vector lengths across cache hit")
		}
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 distinct cache rows, got %d", count)
	}
}

func TestBatchByTokenBudget(t *testing.T) {
	misses := []missIdx{
		{idx: 0, text: "aaaa"},        // 1 token @ 4 chars/token
		{idx: 1, text: "bbbbbbbb"},    // 2 tokens
		{idx: 2, text: "cccccccccc"},  // 3 tokens (rounds up)
	}
	batches := batchByTokenBudget(misses, 3, 4)
	if len(batches) < 2 {
		t.Fatalf("expected the token budget to force at least 2 batches, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != len(misses) {
		t.Fatalf("expected all misses to be preserved across batches, got %d of %d", total, len(misses))
	}
}

func TestBatchByTokenBudgetOversizedSingle(t *testing.T) {
	huge := ""
	for i := 0; i < 1000; i++ {
		huge += "x"
	}
	misses := []missIdx{{idx: 0, text: huge}}
	batches := batchByTokenBudget(misses, 10, 4)
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected a single oversized miss to be its own batch, got %+v", batches)
	}
}
