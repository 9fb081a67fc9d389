package daemonclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mparland/mem-cli/internal/daemon"
	"github.com/mparland/mem-cli/internal/embedcache"
	"github.com/mparland/mem-cli/internal/executor"
	"github.com/mparland/mem-cli/internal/indexstore"
	"github.com/mparland/mem-cli/internal/layout"
	"github.com/mparland/mem-cli/internal/models"
	"github.com/mparland/mem-cli/internal/provider"
	"github.com/mparland/mem-cli/internal/settings"
	"github.com/mparland/mem-cli/internal/sync"
)

func newTestDeps(t *testing.T) *executor.Deps {
	t.Helper()
	root := t.TempDir()
	ws := layout.New(root)

	store, err := indexstore.Open(ws.IndexPath())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := settings.Default().Normalize()
	engine := &sync.Engine{
		Root:       root,
		Store:      store,
		EmbedStore: embedcache.NewStore(store.DB()),
		LockPath:   ws.LockPath(),
		ChunkParams: models.ChunkParams{
			Tokens:        cfg.Chunking.Tokens,
			Overlap:       cfg.Chunking.Overlap,
			MinChars:      cfg.Chunking.MinChars,
			CharsPerToken: cfg.Chunking.CharsPerToken,
		},
		CacheConfig: embedcache.Config{
			BatchMaxTokens:       cfg.Embeddings.BatchMaxTokens,
			ApproxCharsPerToken:  cfg.Embeddings.ApproxCharsPerToken,
			CacheLookupBatchSize: cfg.Embeddings.CacheLookupBatchSize,
		},
	}
	return &executor.Deps{Workspace: ws, Settings: cfg, Store: store, Engine: engine, Provider: &provider.MockProvider{Dims: 4}}
}

// inProcessSpawn stands in for cmd/memctl's exec-a-binary spawn: it
// starts a daemon.Daemon in a goroutine instead of forking a process,
// exercising the client's connect-or-spawn-and-retry path without a
// real memd binary on disk.
func inProcessSpawn(t *testing.T, deps *executor.Deps) SpawnFunc {
	return func(socketPath string) error {
		d := &daemon.Daemon{
			SocketPath:  socketPath,
			IdleTimeout: 5 * time.Second,
			Factory:     func(string) (*executor.Deps, error) { return deps, nil },
		}
		go d.Serve(context.Background())
		return nil
	}
}

func TestClientSpawnsAndForwardsRun(t *testing.T) {
	deps := newTestDeps(t)
	dir := t.TempDir()
	c := &Client{
		SocketPath: filepath.Join(dir, "daemon.sock"),
		StartLock:  filepath.Join(dir, "start.lock"),
	}
	c.Spawn = inProcessSpawn(t, deps)

	res, err := c.Run(context.Background(), []string{"add", "short", "forwarded", "note", "text"}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d stderr=%s", res.ExitCode, res.Stderr)
	}
}

func TestClientNotForwardedWhenNoDaemonAndNoSpawn(t *testing.T) {
	dir := t.TempDir()
	c := &Client{
		SocketPath: filepath.Join(dir, "daemon.sock"),
		StartLock:  filepath.Join(dir, "start.lock"),
	}

	_, err := c.Run(context.Background(), []string{"search", "anything"}, "")
	if err == nil {
		t.Fatalf("expected an error when no daemon and no spawn function are available")
	}
}
