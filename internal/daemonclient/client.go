// Package daemonclient implements the forwarding side of spec.md §4.8:
// ping, spawn-on-absence, run-with-long-timeout, and a single
// restart-and-retry on a version mismatch. It is the counterpart to
// internal/daemon, grounded on internal/mcp/server.go's framing
// (line-delimited JSON) but written for a UNIX socket client rather
// than a stdio server.
package daemonclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/mparland/mem-cli/internal/buildinfo"
	"github.com/mparland/mem-cli/internal/daemon"
	"github.com/mparland/mem-cli/internal/lock"
)

// pingTimeout bounds the handshake probe; runTimeout bounds a forwarded
// command, long enough to cover a cold model load.
const (
	pingTimeout = 800 * time.Millisecond
	runTimeout  = 10 * time.Minute
	spawnWait   = 5 * time.Second
)

// ErrNotForwarded signals that the caller should run the command
// in-process instead: any network/serialization failure talking to the
// daemon falls back this way, per spec.md §4.8.
var ErrNotForwarded = errors.New("daemonclient: command not forwarded")

// Result is what a forwarded command produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SpawnFunc starts a detached daemon process bound to socketPath. The
// real implementation (wired in cmd/memctl) execs the memd binary;
// tests substitute a func that starts an in-process daemon.Daemon.
type SpawnFunc func(socketPath string) error

// Client forwards commands to a daemon over a UNIX socket, starting one
// if none answers the ping.
type Client struct {
	SocketPath string
	StartLock  string // path to the start-lock file, distinct from the index lock
	Spawn      SpawnFunc
}

// Run forwards argv (with stdin already read into a string, per
// spec.md §4.8 step 1) to the daemon, starting it if necessary. It
// returns ErrNotForwarded when the daemon could not be reached at all,
// in which case the caller must run the command in-process.
func (c *Client) Run(ctx context.Context, argv []string, stdin string) (Result, error) {
	if !c.ping() {
		if err := c.ensureStarted(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrNotForwarded, err)
		}
	}

	requestID := uuid.NewString()
	resp, err := c.call(daemon.Request{
		Type:            "run",
		ProtocolVersion: buildinfo.ProtocolVersion,
		ClientVersion:   buildinfo.Version,
		RequestID:       requestID,
		Argv:            argv,
		Stdin:           stdin,
	}, runTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNotForwarded, err)
	}

	if resp.RestartRequired {
		c.call(daemon.Request{Type: "shutdown", ProtocolVersion: buildinfo.ProtocolVersion}, pingTimeout)
		if err := c.ensureStarted(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrNotForwarded, err)
		}
		resp, err = c.call(daemon.Request{
			Type:            "run",
			ProtocolVersion: buildinfo.ProtocolVersion,
			ClientVersion:   buildinfo.Version,
			RequestID:       requestID,
			Argv:            argv,
			Stdin:           stdin,
		}, runTimeout)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrNotForwarded, err)
		}
	}

	if !resp.OK {
		return Result{}, fmt.Errorf("%w: %s", ErrNotForwarded, resp.Error)
	}
	return Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

func (c *Client) ping() bool {
	resp, err := c.call(daemon.Request{Type: "ping", ProtocolVersion: buildinfo.ProtocolVersion, ClientVersion: buildinfo.Version}, pingTimeout)
	return err == nil && resp.OK && !resp.RestartRequired
}

// ensureStarted acquires the start-lock (a second, distinct lock file
// from the per-workspace index lock, guarding only daemon bring-up), and
// spawns a daemon if still absent once held.
func (c *Client) ensureStarted(ctx context.Context) error {
	h, err := lock.Acquire(c.StartLock, lock.Options{Timeout: spawnWait})
	if err != nil {
		return fmt.Errorf("acquire start-lock: %w", err)
	}
	defer h.Release()

	if c.ping() {
		return nil
	}

	if c.Spawn == nil {
		return errors.New("no spawn function configured")
	}
	if err := c.Spawn(c.SocketPath); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	deadline := time.Now().Add(spawnWait)
	for time.Now().Before(deadline) {
		if c.ping() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return errors.New("daemon did not become ready in time")
}

func (c *Client) call(req daemon.Request, timeout time.Duration) (daemon.Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return daemon.Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return daemon.Response{}, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return daemon.Response{}, err
		}
		return daemon.Response{}, errors.New("daemonclient: connection closed with no response")
	}

	var resp daemon.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return daemon.Response{}, err
	}
	return resp, nil
}

// ExecSpawn returns a SpawnFunc that execs binaryPath as a detached
// background process with `--socket socketPath` so it binds to
// socketPath, adding extraEnv to the inherited environment; this is the
// shape cmd/memctl wires in for real use.
func ExecSpawn(binaryPath string, extraEnv ...string) SpawnFunc {
	return func(socketPath string) error {
		cmd := exec.Command(binaryPath, "--socket", socketPath)
		cmd.Env = append(os.Environ(), extraEnv...)
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Start(); err != nil {
			return err
		}
		return cmd.Process.Release()
	}
}
