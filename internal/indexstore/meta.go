package indexstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mparland/mem-cli/internal/models"
)

const metaIndexKey = "index"

// ReadMeta loads the single JSON blob recording the embedding model,
// dims, vector-extension path, and chunking parameters (spec.md §3). A
// false second return means no index has ever been written.
func (s *Store) ReadMeta() (models.IndexMeta, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaIndexKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return models.IndexMeta{}, false, nil
	}
	if err != nil {
		return models.IndexMeta{}, false, fmt.Errorf("indexstore: read meta: %w", err)
	}
	var m models.IndexMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return models.IndexMeta{}, false, fmt.Errorf("indexstore: decode meta: %w", err)
	}
	return m, true, nil
}

// WriteMeta persists the index metadata blob, overwriting any prior
// value. Called on every reindex and on model/dimension change.
func (s *Store) WriteMeta(m models.IndexMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("indexstore: encode meta: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaIndexKey, string(raw))
	if err != nil {
		return fmt.Errorf("indexstore: write meta: %w", err)
	}
	return nil
}
