package indexstore

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/mparland/mem-cli/internal/models"
)

// InsertChunk writes one chunk row within tx, in chunker order, per
// spec.md §4.4 step "Insert chunk rows in chunker order".
func InsertChunk(tx *sql.Tx, c models.Chunk) error {
	_, err := tx.Exec(`
		INSERT INTO chunks (id, file_path, line_start, line_end, hash, model, content, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.FilePath, c.LineStart, c.LineEnd, c.Hash, c.Model, c.Content, c.Embedding, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("indexstore: insert chunk: %w", err)
	}
	return nil
}

// DeleteChunksByPath removes all chunk rows for relPath within tx.
func DeleteChunksByPath(tx *sql.Tx, relPath string) error {
	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_path = ?`, relPath); err != nil {
		return fmt.Errorf("indexstore: delete chunks by path: %w", err)
	}
	return nil
}

// DeleteAllChunks removes every chunk row, used by reindex.
func (s *Store) DeleteAllChunks() error {
	if _, err := s.db.Exec(`DELETE FROM chunks`); err != nil {
		return fmt.Errorf("indexstore: delete all chunks: %w", err)
	}
	return nil
}

// ChunkIDsByPath returns the ids of chunks currently tracked for
// relPath, used to scope vector-row deletion to one file.
func ChunkIDsByPath(q interface {
	Query(query string, args ...any) (*sql.Rows, error)
}, relPath string) ([]string, error) {
	rows, err := q.Query(`SELECT id FROM chunks WHERE file_path = ?`, relPath)
	if err != nil {
		return nil, fmt.Errorf("indexstore: list chunk ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertFileRecord writes or updates a file's (hash, mtime, size)
// within tx.
func UpsertFileRecord(tx *sql.Tx, f models.FileRecord) error {
	_, err := tx.Exec(`
		INSERT INTO files (path, hash, mtime, size) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, mtime = excluded.mtime, size = excluded.size
	`, f.Path, f.Hash, f.Mtime, f.Size)
	if err != nil {
		return fmt.Errorf("indexstore: upsert file record: %w", err)
	}
	return nil
}

// TouchFileRecord updates only (mtime, size), leaving hash untouched —
// used when mtime/size drifted but the recomputed hash did not
// (spec.md §4.4 step 6).
func (s *Store) TouchFileRecord(relPath string, mtime, size int64) error {
	_, err := s.db.Exec(`UPDATE files SET mtime = ?, size = ? WHERE path = ?`, mtime, size, relPath)
	if err != nil {
		return fmt.Errorf("indexstore: touch file record: %w", err)
	}
	return nil
}

// DeleteFileRecord removes relPath's file row within tx.
func DeleteFileRecord(tx *sql.Tx, relPath string) error {
	if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, relPath); err != nil {
		return fmt.Errorf("indexstore: delete file record: %w", err)
	}
	return nil
}

// DeleteAllFiles removes every file row, used by reindex.
func (s *Store) DeleteAllFiles() error {
	if _, err := s.db.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("indexstore: delete all files: %w", err)
	}
	return nil
}

// GetFileRecord returns relPath's tracked (hash, mtime, size), or
// false if relPath is not tracked.
func (s *Store) GetFileRecord(relPath string) (models.FileRecord, bool, error) {
	var f models.FileRecord
	f.Path = relPath
	err := s.db.QueryRow(`SELECT hash, mtime, size FROM files WHERE path = ?`, relPath).
		Scan(&f.Hash, &f.Mtime, &f.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FileRecord{}, false, nil
	}
	if err != nil {
		return models.FileRecord{}, false, fmt.Errorf("indexstore: get file record: %w", err)
	}
	return f, true, nil
}

// ListFileRecords returns every tracked file, used by drift detection
// (spec.md §4.4) to find tracked paths absent from disk.
func (s *Store) ListFileRecords() ([]models.FileRecord, error) {
	rows, err := s.db.Query(`SELECT path, hash, mtime, size FROM files`)
	if err != nil {
		return nil, fmt.Errorf("indexstore: list file records: %w", err)
	}
	defer rows.Close()
	var out []models.FileRecord
	for rows.Next() {
		var f models.FileRecord
		if err := rows.Scan(&f.Path, &f.Hash, &f.Mtime, &f.Size); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// InsertVectorRow writes one vector row within tx. Callers must have
// confirmed the vector table is ready first.
func InsertVectorRow(tx *sql.Tx, id string, embedding []float32) error {
	_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (id, embedding) VALUES (?, ?)`, vectorTableName), id, encodeRawVector(embedding))
	if err != nil {
		return fmt.Errorf("indexstore: insert vector row: %w", err)
	}
	return nil
}

// DeleteVectorRowsByIDs removes vector rows for the given chunk ids
// within tx. No-op on an empty slice.
func DeleteVectorRowsByIDs(tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, vectorTableName, joinPlaceholders(placeholders))
	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("indexstore: delete vector rows: %w", err)
	}
	return nil
}

// PurgeOrphanVectorRows deletes vector rows whose chunks.id no longer
// exists, a one-shot opportunistic cleanup per process (spec.md §4.4
// step 5).
func (s *Store) PurgeOrphanVectorRows() error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (SELECT id FROM chunks)`, vectorTableName)
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("indexstore: purge orphan vector rows: %w", err)
	}
	return nil
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

// encodeRawVector produces the little-endian float32 binary layout
// vec0 expects for a FLOAT[dims] column, distinct from the JSON
// encoding used for chunks.embedding and embedding_cache.embedding
// (spec.md §3 specifies JSON for those; the vector table's column is a
// fixed-width binary blob instead).
func encodeRawVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		b[4*i] = byte(bits)
		b[4*i+1] = byte(bits >> 8)
		b[4*i+2] = byte(bits >> 16)
		b[4*i+3] = byte(bits >> 24)
	}
	return b
}
