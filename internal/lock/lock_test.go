package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db.lock")

	h, err := Acquire(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed after release")
	}
}

func TestAcquireReclaimsDeadOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db.lock")

	// Simulate a lock left behind by a process that is no longer alive.
	// PID 999999 is assumed not to belong to a live process, so the
	// zero-signal probe reports the owner as dead.
	if err := os.WriteFile(path, []byte(`{"pid":999999,"createdAt":1}`), 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	h, err := Acquire(path, Options{Timeout: 2 * time.Second, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("expected dead-owner lock to be reclaimed, got: %v", err)
	}
	h.Release()
}

func TestAcquireTimesOutOnLiveOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db.lock")

	h, err := Acquire(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	_, err = Acquire(path, Options{Timeout: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForReleaseOnAbsentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db.lock")
	if err := WaitForRelease(path, Options{Timeout: time.Second}); err != nil {
		t.Fatalf("expected nil for absent lock file, got %v", err)
	}
}
