// Package lock implements the cross-process advisory lock from
// spec.md §4.6: exclusive file creation with PID-liveness recovery. The
// teacher's single-process SQLite access relies on SetMaxOpenConns(1)
// instead of a cross-process lock file, so this component has no
// teacher analogue; it is built directly from the spec's algorithm
// using os.OpenFile(O_EXCL) and a zero-signal liveness probe, since no
// library in the pack performs exclusive-create-with-JSON-payload
// locking (see DESIGN.md).
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Options tunes the acquisition algorithm; the zero value uses the
// spec's defaults.
type Options struct {
	// GracePeriod is how old a malformed payload must be before it is
	// considered abandoned. Default ~2s.
	GracePeriod time.Duration
	// PollInterval is the sleep between wait-loop iterations. Default ~50ms.
	PollInterval time.Duration
	// Timeout is the maximum time to wait before failing. Default 10 minutes.
	Timeout time.Duration
	// MaxBackoff caps the bounded exponential backoff. Default 250ms.
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Minute
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 250 * time.Millisecond
	}
	return o
}

// payload is the JSON written into the lock file.
type payload struct {
	PID       int   `json:"pid"`
	CreatedAt int64 `json:"createdAt"`
}

// Handle represents an acquired lock.
type Handle struct {
	path string
	file *os.File
}

// ErrTimeout is returned when the lock cannot be acquired within the
// configured deadline.
var ErrTimeout = errors.New("lock: timed out waiting for release")

// Acquire acquires the lock at path, blocking (with bounded backoff and
// dead-owner recovery) until it succeeds or opts.Timeout elapses.
func Acquire(path string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: create parent dirs: %w", err)
	}

	deadline := time.Now().Add(opts.Timeout)
	backoff := opts.PollInterval

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			p := payload{PID: os.Getpid(), CreatedAt: time.Now().UnixMilli()}
			if encErr := json.NewEncoder(f).Encode(p); encErr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("lock: write payload: %w", encErr)
			}
			return &Handle{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lock: create lock file: %w", err)
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		if reclaimStale(path, opts.GracePeriod) {
			continue // retry immediately, no backoff: we just freed it
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(opts.PollInterval)+1))
		time.Sleep(sleep)
		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}

// reclaimStale unlinks path if its payload is malformed-and-old, or if
// its owning PID is no longer alive. Returns true if it removed the file.
func reclaimStale(path string, grace time.Duration) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Already gone or unreadable; let the next Acquire attempt retry.
		return false
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		info, statErr := os.Stat(path)
		if statErr == nil && time.Since(info.ModTime()) > grace {
			return os.Remove(path) == nil
		}
		return false
	}

	if pidAlive(p.PID) {
		return false
	}
	return os.Remove(path) == nil
}

// pidAlive probes a PID with a zero signal: "no such process" means
// dead, "permission denied" counts as alive (some other user's process).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) {
		return false
	}
	if errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

// Release closes and unlinks the lock file.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	closeErr := h.file.Close()
	removeErr := os.Remove(h.path)
	h.file = nil
	if closeErr != nil {
		return closeErr
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return nil
}

// WaitForRelease polls path without acquiring, returning once no live
// owner holds it (or the file is absent). It does not create the lock.
func WaitForRelease(path string, opts Options) error {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)

	for {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // absent: nothing to wait for
		}
		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			info, statErr := os.Stat(path)
			if statErr == nil && time.Since(info.ModTime()) > opts.GracePeriod {
				return nil
			}
		} else if !pidAlive(p.PID) {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(opts.PollInterval)
	}
}
