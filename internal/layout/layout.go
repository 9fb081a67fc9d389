// Package layout maps a workspace path to its canonical sub-paths, the
// way the teacher's store.WorkspaceID hashes a workspace path into a
// stable ID (internal/store/workspaces.go) — here the same hash drives
// the daemon socket directory instead of a database primary key.
package layout

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

// Layout resolves a workspace's on-disk files.
type Layout struct {
	Root string
}

// New returns a Layout rooted at absRoot. Callers must pass an already
// resolved, absolute path; resolving relative/symlinked paths is a
// workspace-lifecycle concern, not the core's.
func New(absRoot string) Layout {
	return Layout{Root: absRoot}
}

// IndexPath returns the embedded database file path.
func (l Layout) IndexPath() string {
	return filepath.Join(l.Root, "index.db")
}

// LockPath returns the per-workspace index lock file path.
func (l Layout) LockPath() string {
	return l.IndexPath() + ".lock"
}

// LongMemoryPath returns the long-term memory file path.
func (l Layout) LongMemoryPath() string {
	return filepath.Join(l.Root, "MEMORY.md")
}

// MemoryDir returns the directory of dated/freely named Markdown files.
func (l Layout) MemoryDir() string {
	return filepath.Join(l.Root, "memory")
}

// WorkspaceHash computes a stable, filesystem-path-safe identifier (32
// hex characters) for a workspace's absolute path, reported as the
// workspaceId field of the executor's state command. The daemon socket
// directory name uses HomeHash12 instead.
func WorkspaceHash(absPath string) string {
	h := sha256.Sum256([]byte(absPath))
	return fmt.Sprintf("%x", h[:16])
}

// HomeHash12 returns the first 12 hex characters of the SHA-256 of the
// user's home directory, used in the daemon socket directory name.
func HomeHash12(homeDir string) string {
	h := sha256.Sum256([]byte(homeDir))
	return fmt.Sprintf("%x", h[:6])
}
