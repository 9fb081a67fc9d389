package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mparland/mem-cli/internal/buildinfo"
	"github.com/mparland/mem-cli/internal/executor"
	"github.com/mparland/mem-cli/internal/layout"
	"github.com/mparland/mem-cli/internal/provider"
)

const defaultIdleTimeout = 10 * time.Minute

// WorkspaceFactory builds the set of dependencies for a workspace root.
// The daemon caches each successful result by root (see depsFor), so it
// calls the factory at most once per distinct root per process lifetime.
type WorkspaceFactory func(root string) (*executor.Deps, error)

// Daemon serves the wire protocol of spec.md §4.7 over a UNIX socket,
// running at most one `run` end-to-end at a time via a FIFO queue.
type Daemon struct {
	SocketPath  string
	IdleTimeout time.Duration
	Factory     WorkspaceFactory
	Cache       *provider.Cache
	MockEnabled bool
	Logger      *slog.Logger

	startedAt time.Time

	mu         sync.Mutex
	deps       map[string]*executor.Deps
	listener   net.Listener
	queue      chan job
	idleTimer  *time.Timer
	idleExpiry chan struct{}
}

type job struct {
	req    Request
	respCh chan Response
}

func (d *Daemon) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Serve binds the socket, applies spec.md §6's permission rules, and
// runs the accept loop and FIFO worker until the idle timer fires or
// a shutdown request arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.SocketPath), 0o700); err != nil {
		return fmt.Errorf("daemon: create socket dir: %w", err)
	}
	os.Remove(d.SocketPath)

	ln, err := net.Listen("unix", d.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}
	if err := os.Chmod(d.SocketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}

	d.listener = ln
	d.startedAt = time.Now()
	d.deps = make(map[string]*executor.Deps)
	d.queue = make(chan job, 64)
	if d.IdleTimeout <= 0 {
		d.IdleTimeout = defaultIdleTimeout
	}
	d.idleExpiry = make(chan struct{})
	d.armIdleTimer()

	shutdownCh := make(chan struct{})
	go d.runQueue(ctx)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			d.armIdleTimer()
			go d.handleConn(conn, shutdownCh)
		}
	}()

	select {
	case <-ctx.Done():
	case <-d.idleExpiry:
		d.logger().Info("daemon: idle timeout, shutting down")
	case <-shutdownCh:
		d.logger().Info("daemon: shutdown requested")
	}

	ln.Close()
	os.Remove(d.SocketPath)
	os.Remove(filepath.Dir(d.SocketPath))
	return nil
}

func (d *Daemon) armIdleTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.IdleTimeout, func() {
		close(d.idleExpiry)
	})
}

func (d *Daemon) handleConn(conn net.Conn, shutdownCh chan struct{}) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(Response{OK: false, Error: "parse error: " + err.Error()})
			continue
		}

		if req.ProtocolVersion != buildinfo.ProtocolVersion ||
			(req.ClientVersion != "" && req.ClientVersion != buildinfo.Version) {
			enc.Encode(Response{OK: false, RestartRequired: true, ProtocolVersion: buildinfo.ProtocolVersion, DaemonVersion: buildinfo.Version})
			continue
		}

		switch req.Type {
		case "ping":
			enc.Encode(d.pingResponse())
		case "shutdown":
			enc.Encode(Response{OK: true})
			select {
			case <-shutdownCh:
			default:
				close(shutdownCh)
			}
			return
		case "run":
			d.logger().Debug("daemon: queuing run", "requestId", req.RequestID, "argv", req.Argv)
			respCh := make(chan Response, 1)
			d.queue <- job{req: req, respCh: respCh}
			resp := <-respCh
			resp.RequestID = req.RequestID
			enc.Encode(resp)
		default:
			enc.Encode(Response{OK: false, Error: "unknown request type: " + req.Type})
		}
	}
}

// runQueue drains the FIFO queue one job at a time, the single point
// of serialization spec.md §4.7 requires ("the daemon runs at most one
// run at a time end-to-end").
func (d *Daemon) runQueue(ctx context.Context) {
	for j := range d.queue {
		j.respCh <- d.execute(ctx, j.req)
	}
}

func (d *Daemon) execute(ctx context.Context, req Request) Response {
	root, err := os.Getwd()
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	deps, err := d.depsFor(root)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}

	sinks := executor.NewSinks()
	code, err := executor.Run(ctx, deps, req.Argv, req.Stdin, sinks)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	d.logger().Debug("daemon: run complete", "requestId", req.RequestID, "exitCode", code)
	return Response{
		OK:       true,
		ExitCode: code,
		Stdout:   sinks.Stdout.String(),
		Stderr:   sinks.Stderr.String(),
	}
}

func (d *Daemon) depsFor(root string) (*executor.Deps, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if deps, ok := d.deps[root]; ok {
		return deps, nil
	}
	deps, err := d.Factory(root)
	if err != nil {
		return nil, err
	}
	d.deps[root] = deps
	return deps, nil
}

func (d *Daemon) pingResponse() Response {
	status := &EmbeddingsStatus{MockEnabled: d.MockEnabled}
	if d.Cache != nil {
		status.ProviderCacheSize = d.Cache.Size()
		status.ProviderCreateCount = d.Cache.CreateCount()
	}
	return Response{
		OK:              true,
		ProtocolVersion: buildinfo.ProtocolVersion,
		DaemonVersion:   buildinfo.Version,
		PID:             os.Getpid(),
		StartedAt:       d.startedAt.UnixMilli(),
		Embeddings:      status,
	}
}

// SocketPathFor implements spec.md §6's POSIX socket path rule:
// <tmpdir>/mem-cli-<uid>-<homeHash12>/daemon.sock.
func SocketPathFor(tmpDir string, uid int, homeDir string) string {
	dir := fmt.Sprintf("mem-cli-%d-%s", uid, layout.HomeHash12(homeDir))
	return filepath.Join(tmpDir, dir, "daemon.sock")
}
