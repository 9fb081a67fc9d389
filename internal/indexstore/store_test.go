package indexstore

import (
	"path/filepath"
	"testing"

	"github.com/mparland/mem-cli/internal/models"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTest(t)
	if _, _, err := s.GetFileRecord("missing.md"); err != nil {
		t.Fatalf("get file record on empty store: %v", err)
	}
	if _, ok, err := s.ReadMeta(); err != nil || ok {
		t.Fatalf("expected no meta on fresh store, ok=%v err=%v", ok, err)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTest(t)
	m := models.IndexMeta{
		Model: "mock:dims=4",
		Dims:  4,
		Chunking: models.ChunkParams{
			Tokens: 200, Overlap: 20, MinChars: 64, CharsPerToken: 4,
		},
	}
	if err := s.WriteMeta(m); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	got, ok, err := s.ReadMeta()
	if err != nil || !ok {
		t.Fatalf("read meta: ok=%v err=%v", ok, err)
	}
	if got.Model != m.Model || got.Dims != m.Dims || !got.Chunking.Equal(m.Chunking) {
		t.Fatalf("meta round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestFileRecordLifecycle(t *testing.T) {
	s := openTest(t)
	tx, err := s.DB().Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f := models.FileRecord{Path: "notes/a.md", Hash: "h1", Mtime: 1000, Size: 10}
	if err := UpsertFileRecord(tx, f); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, ok, err := s.GetFileRecord("notes/a.md")
	if err != nil || !ok {
		t.Fatalf("get file record: ok=%v err=%v", ok, err)
	}
	if got.Hash != "h1" || got.Mtime != 1000 || got.Size != 10 {
		t.Fatalf("unexpected file record: %+v", got)
	}

	if err := s.TouchFileRecord("notes/a.md", 2000, 20); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _, _ = s.GetFileRecord("notes/a.md")
	if got.Hash != "h1" || got.Mtime != 2000 || got.Size != 20 {
		t.Fatalf("touch did not preserve hash: %+v", got)
	}

	all, err := s.ListFileRecords()
	if err != nil || len(all) != 1 {
		t.Fatalf("list file records: %v %+v", err, all)
	}
}

func TestChunkInsertAndDeleteByPath(t *testing.T) {
	s := openTest(t)
	tx, err := s.DB().Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c := models.Chunk{ID: "c1", FilePath: "a.md", LineStart: 1, LineEnd: 2, Hash: "h", Content: "hello", Embedding: []byte("[]"), UpdatedAt: 1}
	if err := InsertChunk(tx, c); err != nil {
		t.Fatalf("insert chunk: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ids, err := ChunkIDsByPath(s.DB(), "a.md")
	if err != nil || len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("unexpected chunk ids: %v %v", ids, err)
	}

	tx2, err := s.DB().Begin()
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	if err := DeleteChunksByPath(tx2, "a.md"); err != nil {
		t.Fatalf("delete chunks: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	ids, err = ChunkIDsByPath(s.DB(), "a.md")
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no chunks after delete, got %v %v", ids, err)
	}
}

func TestEnsureVectorReadyNonPositiveDims(t *testing.T) {
	s := openTest(t)
	ready, err := s.EnsureVectorReady("mock", 0)
	if err != nil {
		t.Fatalf("ensure vector ready: %v", err)
	}
	if ready {
		t.Fatalf("expected vector table not ready for dims<=0")
	}
}

// TestVectorStateSurvivesReopen guards against a regression where a
// fresh process (e.g. the daemon after idle-shutdown-then-respawn)
// would forget the activated model/dims and spuriously DROP the vec0
// table on its first write, destroying every previously indexed
// vector even though the model/dims never actually changed.
func TestVectorStateSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ready, err := s1.EnsureVectorReady("mock:dims=4", 4)
	if err != nil || !ready {
		t.Fatalf("ensure vector ready: ready=%v err=%v", ready, err)
	}

	tx, err := s1.DB().Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := InsertVectorRow(tx, "c1", []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("insert vector row: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if !s2.VectorReady() {
		t.Fatalf("expected vector table to be primed ready from persisted meta on reopen")
	}

	var count int
	if err := s2.DB().QueryRow(`SELECT COUNT(*) FROM ` + vectorTableName).Scan(&count); err != nil {
		t.Fatalf("count vector rows after reopen: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the vector row to survive reopen untouched, got count=%d", count)
	}

	ready, err = s2.EnsureVectorReady("mock:dims=4", 4)
	if err != nil || !ready {
		t.Fatalf("ensure vector ready after reopen: ready=%v err=%v", ready, err)
	}
	if err := s2.DB().QueryRow(`SELECT COUNT(*) FROM ` + vectorTableName).Scan(&count); err != nil {
		t.Fatalf("count vector rows after second ensure: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected EnsureVectorReady with an unchanged model/dims not to drop existing rows, got count=%d", count)
	}
}
