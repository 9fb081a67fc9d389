// Package sync implements the Sync Engine component (spec.md §4.4):
// drift detection, the lock-guarded ensureUpToDate critical section,
// per-file transactional indexing, and full reindex. Grounded on the
// teacher's internal/store/memories.go transactional write pattern and
// internal/store/sqlite.go's migration-check idiom, generalized from
// "one row per memory" to "one row per chunk, rewritten per file".
package sync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mparland/mem-cli/internal/chunker"
	"github.com/mparland/mem-cli/internal/coreerr"
	"github.com/mparland/mem-cli/internal/embedcache"
	"github.com/mparland/mem-cli/internal/indexstore"
	"github.com/mparland/mem-cli/internal/layout"
	"github.com/mparland/mem-cli/internal/lock"
	"github.com/mparland/mem-cli/internal/models"
	"github.com/mparland/mem-cli/internal/provider"
)

// Engine ties together the index store, chunker, embedding pipeline,
// and lock for one workspace.
type Engine struct {
	Root         string
	Store        *indexstore.Store
	EmbedStore   *embedcache.Store
	LockPath     string
	ChunkParams  models.ChunkParams
	CacheConfig  embedcache.Config
	Logger       *slog.Logger

	// orphansPurged records that the one-shot orphan-vector purge has run.
	orphansPurged bool
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// markdownFiles collects exactly the files spec.md §3 puts in scope:
// MEMORY.md itself and the *.md entries directly under memory/. A
// root-level notes.md, or anything outside those two locations, is
// never indexed even though the workspace may contain other Markdown.
func (e *Engine) markdownFiles() (map[string]os.FileInfo, error) {
	lay := layout.New(e.Root)
	out := make(map[string]os.FileInfo)

	if info, err := os.Stat(lay.LongMemoryPath()); err == nil {
		out["MEMORY.md"] = info
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("sync: stat %s: %w", lay.LongMemoryPath(), err)
	}

	entries, err := os.ReadDir(lay.MemoryDir())
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("sync: read %s: %w", lay.MemoryDir(), err)
	}
	for _, d := range entries {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			return nil, fmt.Errorf("sync: stat memory/%s: %w", d.Name(), err)
		}
		out["memory/"+d.Name()] = info
	}
	return out, nil
}

func fileHash(absPath string) (string, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(content)
	return fmt.Sprintf("%x", h), nil
}

// NeedsUpdate implements the drift-detection rules of spec.md §4.4.
func (e *Engine) NeedsUpdate(p provider.Provider) (bool, error) {
	meta, haveMeta, err := e.Store.ReadMeta()
	if err != nil {
		return false, fmt.Errorf("sync: read meta: %w", err)
	}
	if !haveMeta {
		return true, nil
	}
	if !meta.Chunking.Equal(e.ChunkParams) {
		return true, nil
	}

	wantModel := ""
	if p != nil {
		wantModel = p.ModelPath()
	}
	if meta.Model != wantModel {
		return true, nil
	}

	onDisk, err := e.markdownFiles()
	if err != nil {
		return false, err
	}
	tracked, err := e.Store.ListFileRecords()
	if err != nil {
		return false, fmt.Errorf("sync: list file records: %w", err)
	}
	trackedByPath := make(map[string]models.FileRecord, len(tracked))
	for _, f := range tracked {
		trackedByPath[f.Path] = f
	}

	for relPath := range onDisk {
		if _, ok := trackedByPath[relPath]; !ok {
			return true, nil
		}
	}
	for relPath, rec := range trackedByPath {
		info, ok := onDisk[relPath]
		if !ok {
			return true, nil
		}
		mtime := info.ModTime().UnixMilli()
		size := info.Size()
		if mtime != rec.Mtime || size != rec.Size {
			hash, err := fileHash(filepath.Join(e.Root, relPath))
			if err != nil {
				return false, fmt.Errorf("sync: hash %s: %w", relPath, err)
			}
			if hash != rec.Hash {
				return true, nil
			}
		}
	}
	return false, nil
}

// EnsureUpToDate runs the lock-guarded critical section of spec.md
// §4.4: wait for the lock, acquire it, re-check drift, escalate to a
// full reindex if chunking or the provider model changed, purge
// orphan vector rows once, then reconcile each file.
func (e *Engine) EnsureUpToDate(ctx context.Context, p provider.Provider) error {
	if err := lock.WaitForRelease(e.LockPath, lock.Options{}); err != nil {
		return coreerr.New(coreerr.KindLockTimeout, err)
	}
	h, err := lock.Acquire(e.LockPath, lock.Options{})
	if err != nil {
		if err == lock.ErrTimeout {
			return coreerr.New(coreerr.KindLockTimeout, err)
		}
		return fmt.Errorf("sync: acquire lock: %w", err)
	}
	defer h.Release()

	needs, err := e.NeedsUpdate(p)
	if err != nil {
		return err
	}
	if !needs {
		return nil
	}

	meta, haveMeta, err := e.Store.ReadMeta()
	if err != nil {
		return fmt.Errorf("sync: read meta: %w", err)
	}
	wantModel := ""
	if p != nil {
		wantModel = p.ModelPath()
	}
	chunkingChanged := !haveMeta || !meta.Chunking.Equal(e.ChunkParams)
	modelChanged := !haveMeta || meta.Model != wantModel
	if chunkingChanged || modelChanged {
		return e.reindexLocked(ctx, p)
	}

	if !e.orphansPurged && e.Store.VectorReady() {
		if err := e.Store.PurgeOrphanVectorRows(); err != nil {
			return fmt.Errorf("sync: purge orphan vector rows: %w", err)
		}
		e.orphansPurged = true
	}

	onDisk, err := e.markdownFiles()
	if err != nil {
		return err
	}
	tracked, err := e.Store.ListFileRecords()
	if err != nil {
		return fmt.Errorf("sync: list file records: %w", err)
	}
	trackedByPath := make(map[string]models.FileRecord, len(tracked))
	for _, f := range tracked {
		trackedByPath[f.Path] = f
	}

	for relPath, info := range onDisk {
		rec, isTracked := trackedByPath[relPath]
		mtime := info.ModTime().UnixMilli()
		size := info.Size()
		if !isTracked {
			if err := e.indexFile(ctx, p, relPath); err != nil {
				return err
			}
			continue
		}
		if mtime != rec.Mtime || size != rec.Size {
			hash, err := fileHash(filepath.Join(e.Root, relPath))
			if err != nil {
				return fmt.Errorf("sync: hash %s: %w", relPath, err)
			}
			if hash != rec.Hash {
				if err := e.indexFile(ctx, p, relPath); err != nil {
					return err
				}
			} else if err := e.Store.TouchFileRecord(relPath, mtime, size); err != nil {
				return fmt.Errorf("sync: touch %s: %w", relPath, err)
			}
		}
	}

	for relPath := range trackedByPath {
		if _, ok := onDisk[relPath]; ok {
			continue
		}
		if err := e.removeFile(relPath); err != nil {
			return err
		}
	}

	return nil
}

// removeFile deletes a tracked path's vector rows, chunk rows, and
// file row, in that order (spec.md §4.4 step 7).
func (e *Engine) removeFile(relPath string) error {
	tx, err := e.Store.DB().Begin()
	if err != nil {
		return fmt.Errorf("sync: begin remove %s: %w", relPath, err)
	}
	defer tx.Rollback()

	if e.Store.VectorReady() {
		ids, err := indexstore.ChunkIDsByPath(tx, relPath)
		if err != nil {
			return err
		}
		if err := indexstore.DeleteVectorRowsByIDs(tx, ids); err != nil {
			return err
		}
	}
	if err := indexstore.DeleteChunksByPath(tx, relPath); err != nil {
		return err
	}
	if err := indexstore.DeleteFileRecord(tx, relPath); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: commit remove %s: %w", relPath, err)
	}
	return nil
}

// indexFile implements spec.md §4.4's indexFile: chunk, embed, and
// rewrite one file's chunk/vector/file rows inside a single
// transaction.
func (e *Engine) indexFile(ctx context.Context, p provider.Provider, relPath string) error {
	absPath := filepath.Join(e.Root, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("sync: read %s: %w", relPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("sync: stat %s: %w", relPath, err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(content))

	pieces := chunker.Chunk(string(content), e.ChunkParams)
	var nonEmpty []chunker.Piece
	for _, piece := range pieces {
		if strings.TrimSpace(piece.Content) == "" {
			continue
		}
		nonEmpty = append(nonEmpty, piece)
	}

	var vectors [][]float32
	model := ""
	dims := 0
	if p != nil && len(nonEmpty) > 0 {
		model = p.ModelPath()
		vectors, err = embedcache.Embed(ctx, nonEmpty, p, e.EmbedStore, e.CacheConfig)
		if err != nil {
			return coreerr.New(coreerr.KindEmbeddingsUnavailable, err)
		}
		for _, v := range vectors {
			if len(v) > 0 {
				dims = len(v)
				break
			}
		}
	}

	vectorReady := false
	if dims > 0 {
		vectorReady, err = e.Store.EnsureVectorReady(model, dims)
		if err != nil {
			return fmt.Errorf("sync: ensure vector ready: %w", err)
		}
	}

	tx, err := e.Store.DB().Begin()
	if err != nil {
		return fmt.Errorf("sync: begin index %s: %w", relPath, err)
	}
	defer tx.Rollback()

	if e.Store.VectorReady() {
		ids, err := indexstore.ChunkIDsByPath(tx, relPath)
		if err != nil {
			return err
		}
		if err := indexstore.DeleteVectorRowsByIDs(tx, ids); err != nil {
			return err
		}
	}
	if err := indexstore.DeleteChunksByPath(tx, relPath); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for i, piece := range nonEmpty {
		var embedding []byte
		if vectors != nil {
			embedding = models.EncodeVector(vectors[i])
		} else {
			embedding = models.EncodeVector(nil)
		}
		c := models.Chunk{
			ID:        chunker.ID(relPath, piece.LineStart, piece.LineEnd, piece.Hash, i),
			FilePath:  relPath,
			LineStart: piece.LineStart,
			LineEnd:   piece.LineEnd,
			Hash:      piece.Hash,
			Model:     model,
			Content:   piece.Content,
			Embedding: embedding,
			UpdatedAt: now,
		}
		if err := indexstore.InsertChunk(tx, c); err != nil {
			return err
		}
		if vectorReady && len(vectors[i]) > 0 {
			if err := indexstore.InsertVectorRow(tx, c.ID, vectors[i]); err != nil {
				return err
			}
		}
	}

	if err := indexstore.UpsertFileRecord(tx, models.FileRecord{
		Path:  relPath,
		Hash:  hash,
		Mtime: info.ModTime().UnixMilli(),
		Size:  info.Size(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: commit index %s: %w", relPath, err)
	}
	return nil
}

// Reindex acquires the lock itself and runs a full rebuild, for
// callers (e.g. the executor's `reindex` command) that are not already
// inside EnsureUpToDate's critical section.
func (e *Engine) Reindex(ctx context.Context, p provider.Provider) error {
	h, err := lock.Acquire(e.LockPath, lock.Options{})
	if err != nil {
		if err == lock.ErrTimeout {
			return coreerr.New(coreerr.KindLockTimeout, err)
		}
		return fmt.Errorf("sync: acquire lock: %w", err)
	}
	defer h.Release()
	return e.reindexLocked(ctx, p)
}

// reindexLocked implements spec.md §4.4's reindex, assuming the caller
// already holds the lock.
func (e *Engine) reindexLocked(ctx context.Context, p provider.Provider) error {
	meta := models.IndexMeta{Chunking: e.ChunkParams}
	if p != nil {
		meta.Model = p.ModelPath()
	}

	extAvailable := e.Store.VectorExtensionAvailable()
	if extAvailable {
		if err := e.Store.DropVectorTable(); err != nil {
			return fmt.Errorf("sync: drop vector table: %w", err)
		}
	} else if p != nil {
		// The extension is unavailable but a provider was requested:
		// stale vectors cannot be left behind safely (spec.md §4.4).
		return coreerr.Newf(coreerr.KindEmbeddingsUnavailable,
			"reindex requested with an embedding provider but the vector extension is unavailable")
	}

	if err := e.Store.WriteMeta(meta); err != nil {
		return fmt.Errorf("sync: write meta: %w", err)
	}
	if err := e.Store.DeleteAllChunks(); err != nil {
		return err
	}
	if err := e.Store.DeleteAllFiles(); err != nil {
		return err
	}

	onDisk, err := e.markdownFiles()
	if err != nil {
		return err
	}
	for relPath := range onDisk {
		if err := e.indexFile(ctx, p, relPath); err != nil {
			return err
		}
	}

	// indexFile's calls to EnsureVectorReady already persist the vector
	// table's model/dims as they're discovered, but a reindex with no
	// markdown files (or none producing embeddings) would otherwise
	// leave meta.Dims at the zero value written above even though that
	// is in fact correct; re-reading and rewriting here keeps the two
	// writes consistent without duplicating EnsureVectorReady's logic.
	meta.Dims = 0
	if e.Store.VectorReady() {
		if current, have, err := e.Store.ReadMeta(); err == nil && have {
			meta.Dims = current.Dims
			meta.VectorTableReady = current.VectorTableReady
			meta.VectorExtPath = current.VectorExtPath
		}
	}
	if err := e.Store.WriteMeta(meta); err != nil {
		return fmt.Errorf("sync: write meta: %w", err)
	}
	return nil
}
