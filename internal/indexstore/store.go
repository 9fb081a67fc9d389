// Package indexstore implements the Index Store component (spec.md
// §4.3): opening/creating the database, setting pragmas, ensuring the
// schema, and owning the native vector virtual table's lazy lifecycle.
// Grounded on the teacher's internal/store/sqlite.go (Open/initSchema/
// runMigrations/columnExists idiom), retargeted at the pure-Go
// ncruces/go-sqlite3 driver plus the asg017/sqlite-vec-go-bindings/ncruces
// vec0 extension, per SPEC_FULL.md §B.
package indexstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection and the vector table's lazy
// activation state, which is cached per process and re-probed on first
// use (spec.md §4.5).
type Store struct {
	db *sql.DB

	mu               sync.Mutex
	vectorProbed     bool
	vectorAvailable  bool
	vectorTableReady bool
	vectorDims       int
	vectorModel      string
	extPath          string
}

// Open creates or opens the SQLite database at dbPath, sets a busy
// timeout and WAL journaling, and ensures the core schema exists. It
// never creates the vector table itself — that happens lazily via
// EnsureVectorReady once a positive dims is known (spec.md §4.3) — but
// it does prime the in-memory activation cache from whatever model/
// dims/ready state was last persisted, so a freshly started process
// recognizes an already-activated table instead of treating it as
// stale.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("indexstore: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("indexstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexstore: init schema: %w", err)
	}
	if err := s.primeVectorState(); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexstore: prime vector state: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for the sync engine's
// transactional per-file writes (spec.md §4.4).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	file_path TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	hash TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

CREATE TABLE IF NOT EXISTS embedding_cache (
	model TEXT NOT NULL,
	hash TEXT NOT NULL,
	embedding TEXT NOT NULL DEFAULT '[]',
	dims INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (model, hash)
);

CREATE INDEX IF NOT EXISTS idx_embedding_cache_updated_at ON embedding_cache(updated_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	ok, err := hasRequiredColumns(s.db, "chunks", []string{
		"id", "file_path", "line_start", "line_end", "hash", "model", "content", "embedding", "updated_at",
	})
	if err != nil {
		return fmt.Errorf("check chunks schema: %w", err)
	}
	if !ok {
		if _, err := s.db.Exec(`DROP TABLE chunks`); err != nil {
			return fmt.Errorf("drop stale chunks table: %w", err)
		}
		if _, err := s.db.Exec(`
			CREATE TABLE chunks (
				id TEXT PRIMARY KEY,
				file_path TEXT NOT NULL,
				line_start INTEGER NOT NULL,
				line_end INTEGER NOT NULL,
				hash TEXT NOT NULL,
				model TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				embedding TEXT NOT NULL DEFAULT '[]',
				updated_at INTEGER NOT NULL
			)`); err != nil {
			return fmt.Errorf("recreate chunks table: %w", err)
		}
		if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path)`); err != nil {
			return fmt.Errorf("recreate chunks index: %w", err)
		}
	}

	// embedding_cache predates the dims column; an older database opened
	// by a newer binary gets it added in place rather than losing its
	// cached embeddings to a drop-and-recreate.
	hasDims, err := columnExists(s.db, "embedding_cache", "dims")
	if err != nil {
		return fmt.Errorf("check embedding_cache schema: %w", err)
	}
	if !hasDims {
		if _, err := s.db.Exec(`ALTER TABLE embedding_cache ADD COLUMN dims INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("migrate embedding_cache: add dims column: %w", err)
		}
	}

	return nil
}

// hasRequiredColumns mirrors the teacher's columnExists, generalized to
// check a whole column set against PRAGMA table_info(table), per
// spec.md §4.3's schema-check requirement.
func hasRequiredColumns(db *sql.DB, table string, required []string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, col := range required {
		if !have[col] {
			return false, nil
		}
	}
	return true, nil
}

// columnExists checks a single column, for migration probes that only
// care about one addition (e.g. embedding_cache's dims column above)
// rather than the whole-table reset hasRequiredColumns backs.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	return hasRequiredColumns(db, table, []string{column})
}
