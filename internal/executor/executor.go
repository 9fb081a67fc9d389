// Package executor dispatches the daemon's forwardable commands
// (`add`, `search`, `reindex`, `state`) to the sync/search/embedding
// components, writing results through explicit sink objects rather
// than the process's stdout/stderr. This is the re-architecture spec.md
// §9 calls for in place of the teacher's monkey-patched stream capture,
// generalized from internal/mcp/server.go's dispatch-by-name pattern
// (dispatchTool switching on a tool name) to argv-based commands.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mparland/mem-cli/internal/coreerr"
	"github.com/mparland/mem-cli/internal/indexstore"
	"github.com/mparland/mem-cli/internal/layout"
	"github.com/mparland/mem-cli/internal/provider"
	"github.com/mparland/mem-cli/internal/search"
	"github.com/mparland/mem-cli/internal/settings"
	"github.com/mparland/mem-cli/internal/sync"
)

// Sinks are the explicit stdout/stderr replacements a command writes
// through, instead of the process streams.
type Sinks struct {
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// NewSinks allocates empty, ready-to-use sinks.
func NewSinks() Sinks {
	return Sinks{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
}

// Deps are the components one workspace's commands are dispatched
// against. A daemon keeps one Deps per workspace root warm across
// requests.
type Deps struct {
	Workspace layout.Layout
	Settings  settings.Settings
	Store     *indexstore.Store
	Engine    *sync.Engine
	Provider  provider.Provider // nil when running without embeddings
}

// Run dispatches argv to the matching command and returns the process
// exit code, writing output through sinks. Unknown commands,
// argument-parsing failures and command failures (including I/O errors
// while writing a note) are reported through Sinks.Stderr with exit
// code 1; the returned error is nil on every path, mirroring spec.md
// §6's "exit code 0 on success, 1 on errors surfaced to the user".
func Run(ctx context.Context, deps *Deps, argv []string, stdin string, sinks Sinks) (int, error) {
	if len(argv) == 0 {
		fmt.Fprintln(sinks.Stderr, "mem-cli: missing command")
		return 1, nil
	}

	switch argv[0] {
	case "add":
		return runAdd(ctx, deps, argv[1:], stdin, sinks)
	case "search":
		return runSearch(ctx, deps, argv[1:], sinks)
	case "reindex":
		return runReindex(ctx, deps, argv[1:], sinks)
	case "state":
		return runState(ctx, deps, argv[1:], sinks)
	default:
		fmt.Fprintf(sinks.Stderr, "mem-cli: unknown command %q\n", argv[0])
		return 1, nil
	}
}

// newFlagSet gives every command call its own flag.FlagSet so that concurrent-looking calls across requests (the daemon is
// single-threaded, but tests may call Run repeatedly) never share
// parser state.
func newFlagSet(name string, sinks Sinks) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(sinks.Stderr)
	return fs
}

func runAdd(ctx context.Context, deps *Deps, args []string, stdin string, sinks Sinks) (int, error) {
	fs := newFlagSet("add", sinks)
	useStdin := fs.Bool("stdin", false, "")
	asJSON := fs.Bool("json", false, "")
	if err := fs.Parse(args); err != nil {
		return 1, nil
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(sinks.Stderr, "mem-cli: add requires short|long")
		return 1, nil
	}
	kind := rest[0]
	if kind != "short" && kind != "long" {
		fmt.Fprintf(sinks.Stderr, "mem-cli: add: unknown kind %q, expected short or long\n", kind)
		return 1, nil
	}

	text := strings.Join(rest[1:], " ")
	if *useStdin {
		text = stdin
	}
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(sinks.Stderr, "mem-cli: add requires non-empty text")
		return 1, nil
	}

	relPath, err := appendNote(deps.Workspace, kind, text)
	if err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: %v\n", err)
		return 1, nil
	}

	if err := deps.Engine.EnsureUpToDate(ctx, deps.Provider); err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: index update failed: %v\n", err)
		return 1, nil
	}

	if *asJSON {
		enc := json.NewEncoder(sinks.Stdout)
		enc.Encode(map[string]any{"ok": true, "path": relPath})
	} else {
		fmt.Fprintf(sinks.Stdout, "added to %s\n", relPath)
	}
	return 0, nil
}

// appendNote writes text to MEMORY.md ("long") or a dated file under
// memory/ ("short"), returning the workspace-relative path written.
func appendNote(ws layout.Layout, kind, text string) (string, error) {
	if kind == "long" {
		path := ws.LongMemoryPath()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "\n%s\n", text); err != nil {
			return "", err
		}
		return "MEMORY.md", nil
	}

	dir := ws.MemoryDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create memory dir: %w", err)
	}
	name := time.Now().UTC().Format("2006-01-02") + ".md"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "\n%s\n", text); err != nil {
		return "", err
	}
	return "memory/" + name, nil
}

func runSearch(ctx context.Context, deps *Deps, args []string, sinks Sinks) (int, error) {
	fs := newFlagSet("search", sinks)
	limit := fs.Int("limit", deps.Settings.Search.Limit, "")
	asJSON := fs.Bool("json", false, "")
	if err := fs.Parse(args); err != nil {
		return 1, nil
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(sinks.Stderr, "mem-cli: search requires a query")
		return 1, nil
	}
	if deps.Provider == nil {
		err := coreerr.New(coreerr.KindEmbeddingsUnavailable, fmt.Errorf("no embedding provider configured"))
		fmt.Fprintf(sinks.Stderr, "mem-cli: %v\n", err)
		return 1, nil
	}

	if err := deps.Engine.EnsureUpToDate(ctx, deps.Provider); err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: index update failed: %v\n", err)
		return 1, nil
	}

	queryVec, err := deps.Provider.EmbedQuery(ctx, query)
	if err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: embed query: %v\n", err)
		return 1, nil
	}

	hits, err := search.SearchVector(deps.Store, queryVec, *limit, deps.Provider.ModelPath(), deps.Settings.Search.SnippetMaxChars, nil)
	if err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: search: %v\n", err)
		return 1, nil
	}

	if *asJSON {
		enc := json.NewEncoder(sinks.Stdout)
		enc.Encode(map[string]any{"ok": true, "hits": hits})
		return 0, nil
	}
	for _, h := range hits {
		fmt.Fprintf(sinks.Stdout, "%.4f  %s:%d-%d  %s\n", h.Score, h.FilePath, h.LineStart, h.LineEnd, h.Snippet)
	}
	return 0, nil
}

func runReindex(ctx context.Context, deps *Deps, args []string, sinks Sinks) (int, error) {
	fs := newFlagSet("reindex", sinks)
	asJSON := fs.Bool("json", false, "")
	fs.Bool("force", false, "")
	if err := fs.Parse(args); err != nil {
		return 1, nil
	}

	if err := deps.Engine.Reindex(ctx, deps.Provider); err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: reindex: %v\n", err)
		return 1, nil
	}
	if *asJSON {
		enc := json.NewEncoder(sinks.Stdout)
		enc.Encode(map[string]any{"ok": true})
	} else {
		fmt.Fprintln(sinks.Stdout, "reindex complete")
	}
	return 0, nil
}

// healthChecker is implemented by providers that can reach out and
// confirm their backing model server is actually up (HTTPProvider);
// MockProvider and others simply don't satisfy it, so state reports
// no health for them rather than guessing.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func runState(ctx context.Context, deps *Deps, args []string, sinks Sinks) (int, error) {
	fs := newFlagSet("state", sinks)
	asJSON := fs.Bool("json", false, "")
	if err := fs.Parse(args); err != nil {
		return 1, nil
	}

	meta, ok, err := deps.Store.ReadMeta()
	if err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: state: %v\n", err)
		return 1, nil
	}
	files, err := deps.Store.ListFileRecords()
	if err != nil {
		fmt.Fprintf(sinks.Stderr, "mem-cli: state: %v\n", err)
		return 1, nil
	}

	var providerHealthy *bool
	if hc, isHealthChecker := deps.Provider.(healthChecker); isHealthChecker {
		healthy := hc.HealthCheck(ctx) == nil
		providerHealthy = &healthy
	}

	state := map[string]any{
		"ok":           true,
		"haveIndex":    ok,
		"workspaceId":  layout.WorkspaceHash(deps.Workspace.Root),
		"model":        meta.Model,
		"dims":         meta.Dims,
		"vectorReady":  deps.Store.VectorReady(),
		"trackedFiles": len(files),
	}
	if providerHealthy != nil {
		state["providerHealthy"] = *providerHealthy
	}

	if *asJSON {
		enc := json.NewEncoder(sinks.Stdout)
		enc.Encode(state)
	} else {
		healthSuffix := ""
		if providerHealthy != nil {
			healthSuffix = fmt.Sprintf(" providerHealthy=%v", *providerHealthy)
		}
		fmt.Fprintf(sinks.Stdout, "model=%s dims=%d vectorReady=%v trackedFiles=%d%s\n",
			meta.Model, meta.Dims, deps.Store.VectorReady(), len(files), healthSuffix)
	}
	return 0, nil
}
