package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mparland/mem-cli/internal/embedcache"
	"github.com/mparland/mem-cli/internal/indexstore"
	"github.com/mparland/mem-cli/internal/layout"
	"github.com/mparland/mem-cli/internal/models"
	"github.com/mparland/mem-cli/internal/provider"
	"github.com/mparland/mem-cli/internal/settings"
	"github.com/mparland/mem-cli/internal/sync"
)

func newTestDeps(t *testing.T) (*Deps, string) {
	t.Helper()
	root := t.TempDir()
	ws := layout.New(root)

	store, err := indexstore.Open(ws.IndexPath())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := settings.Default().Normalize()
	p := &provider.MockProvider{Dims: 4}

	engine := &sync.Engine{
		Root:        root,
		Store:       store,
		EmbedStore:  embedcache.NewStore(store.DB()),
		LockPath:    ws.LockPath(),
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

	return &Deps{
		Workspace: ws,
		Settings:  cfg,
		Store:     store,
		Engine:    engine,
		Provider:  p,
	}, root
}

func TestRunAddShortThenSearch(t *testing.T) {
	deps, root := newTestDeps(t)
	ctx := context.Background()

	sinks := NewSinks()
	code, err := Run(ctx, deps, []string{"add", "short", "the", "rocket", "launched", "at", "dawn"}, "", sinks)
	if err != nil {
		t.Fatalf("run add: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d, stderr=%s", code, sinks.Stderr.String())
	}

	entries, err := os.ReadDir(filepath.Join(root, "memory"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one dated note file, got %v err=%v", entries, err)
	}

	sinks2 := NewSinks()
	code, err = Run(ctx, deps, []string{"search", "rocket", "launch"}, "", sinks2)
	if err != nil {
		t.Fatalf("run search: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0 from search, got %d stderr=%s", code, sinks2.Stderr.String())
	}
	if !strings.Contains(sinks2.Stdout.String(), "rocket") {
		t.Fatalf("expected search output to surface the added content, got %q", sinks2.Stdout.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	deps, _ := newTestDeps(t)
	sinks := NewSinks()
	code, err := Run(context.Background(), deps, []string{"bogus"}, "", sinks)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 1 {
		t.Fatalf("expected exit code 1 for unknown command, got %d", code)
	}
}

func TestRunState(t *testing.T) {
	deps, _ := newTestDeps(t)
	sinks := NewSinks()
	code, err := Run(context.Background(), deps, []string{"state", "--json"}, "", sinks)
	if err != nil {
		t.Fatalf("run state: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d stderr=%s", code, sinks.Stderr.String())
	}
	var out map[string]any
	if err := json.Unmarshal(sinks.Stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode state json: %v", err)
	}
	id, ok := out["workspaceId"].(string)
	if !ok || id == "" {
		t.Fatalf("expected non-empty workspaceId in state output, got %+v", out)
	}
	// MockProvider does not implement HealthCheck, so providerHealthy
	// must be omitted rather than guessed at.
	if _, present := out["providerHealthy"]; present {
		t.Fatalf("expected providerHealthy to be absent for a provider with no health check, got %+v", out)
	}
}
