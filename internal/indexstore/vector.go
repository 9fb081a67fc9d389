package indexstore

import (
	"database/sql"
	"errors"
	"fmt"
)

const vectorTableName = "chunk_vectors"

// EnsureVectorReady owns the vec0 virtual table's lazy create/drop/
// recreate lifecycle (spec.md §4.3). It is new relative to the
// teacher's store: the teacher's driver had no vector extension at
// all, so there was nothing to lazily activate.
//
// Returns whether the vector table is ready for reads/writes after
// this call. A false return with a nil error means "vector search and
// storage are unavailable for this run" — spec.md §4.5 requires the
// search path to fall back gracefully rather than treat this as fatal,
// except where §4.4 says otherwise (reindex with a requested provider
// and no available extension is fatal).
func (s *Store) EnsureVectorReady(model string, dims int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dims <= 0 {
		s.vectorTableReady = false
		return false, nil
	}

	if !s.vectorProbed {
		s.vectorProbed = true
		s.vectorAvailable = s.probeVectorExtension()
	}
	if !s.vectorAvailable {
		s.vectorTableReady = false
		return false, nil
	}

	if s.vectorTableReady && s.vectorModel == model && s.vectorDims == dims {
		return true, nil
	}

	exists, err := s.hasVectorTable()
	if err != nil {
		return false, fmt.Errorf("indexstore: check vector table: %w", err)
	}

	if exists && (s.vectorModel != model || s.vectorDims != dims || !s.vectorTableReady) {
		if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vectorTableName)); err != nil {
			return false, fmt.Errorf("indexstore: drop stale vector table: %w", err)
		}
		exists = false
	}

	if !exists {
		stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE %s USING vec0(id TEXT PRIMARY KEY, embedding FLOAT[%d])`, vectorTableName, dims)
		if _, err := s.db.Exec(stmt); err != nil {
			s.vectorAvailable = false
			s.vectorTableReady = false
			return false, nil
		}
	}

	s.vectorModel = model
	s.vectorDims = dims
	s.vectorTableReady = true
	s.extPath = "builtin:sqlite-vec-go-bindings"

	if err := s.persistVectorStateLocked(); err != nil {
		return false, err
	}

	return true, nil
}

// primeVectorState reloads the last-known (model, dims, ready) triple
// from persisted index metadata at Open time, so a fresh process (for
// example the daemon after its documented idle-shutdown-then-respawn)
// recognizes an unchanged model/dims pair and never spuriously drops
// the vec0 table. Trusts a persisted "ready" only if the table itself
// is actually still there.
func (s *Store) primeVectorState() error {
	meta, have, err := s.ReadMeta()
	if err != nil {
		return fmt.Errorf("indexstore: read meta: %w", err)
	}
	if !have || meta.Dims <= 0 {
		return nil
	}
	exists, err := s.hasVectorTable()
	if err != nil {
		return fmt.Errorf("indexstore: check vector table: %w", err)
	}
	s.vectorModel = meta.Model
	s.vectorDims = meta.Dims
	s.vectorTableReady = meta.VectorTableReady && exists
	s.extPath = meta.VectorExtPath
	return nil
}

// persistVectorStateLocked writes the vector table's current
// activation state into the persisted meta blob, preserving whatever
// else (chunking params) is already there. Callers must hold s.mu.
func (s *Store) persistVectorStateLocked() error {
	meta, _, err := s.ReadMeta()
	if err != nil {
		return fmt.Errorf("indexstore: read meta for vector state: %w", err)
	}
	meta.Model = s.vectorModel
	meta.Dims = s.vectorDims
	meta.VectorTableReady = s.vectorTableReady
	meta.VectorExtPath = s.extPath
	if err := s.WriteMeta(meta); err != nil {
		return fmt.Errorf("indexstore: persist vector state: %w", err)
	}
	return nil
}

// probeVectorExtension attempts a throwaway vec0 table to confirm the
// extension actually loaded (the blank import registers it at the
// driver level, but a probe is the only way to know it works on this
// platform — spec.md §4.3: "Load the vector extension; if loading or a
// probe query fails, mark vector unavailable").
func (s *Store) probeVectorExtension() bool {
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS __vec_probe USING vec0(id TEXT PRIMARY KEY, embedding FLOAT[1])`)
	if err != nil {
		return false
	}
	s.db.Exec(`DROP TABLE IF EXISTS __vec_probe`)
	return true
}

func (s *Store) hasVectorTable() (bool, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, vectorTableName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// VectorExtensionAvailable reports whether the vec0 extension loads on
// this process, probing once and caching the result. Unlike
// VectorReady, this does not require a table to have been activated
// with a specific dims — it answers "could a vector table be created
// at all", which reindex needs to decide whether losing vectors is
// fatal (spec.md §4.4).
func (s *Store) VectorExtensionAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.vectorProbed {
		s.vectorProbed = true
		s.vectorAvailable = s.probeVectorExtension()
	}
	return s.vectorAvailable
}

// VectorReady reports the cached activation state without probing.
func (s *Store) VectorReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vectorTableReady
}

// VectorExtPath returns the last-resolved vector extension path, for
// persisting into index metadata.
func (s *Store) VectorExtPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extPath
}

// DropVectorTable removes the vector table entirely, used by reindex
// when the extension loads but the index is being rebuilt from scratch
// (spec.md §4.4).
func (s *Store) DropVectorTable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vectorTableName)); err != nil {
		return fmt.Errorf("indexstore: drop vector table: %w", err)
	}
	s.vectorTableReady = false
	return nil
}

// VectorTableName exposes the vector table's name for the search
// component's joined query (spec.md §4.5).
func VectorTableName() string {
	return vectorTableName
}
