// Command memd is the daemon entrypoint (spec.md §4.7): it binds the
// local socket, wires a warm embedding-provider cache, and serves
// ping/run/shutdown until idle or asked to stop. Wiring style follows
// cmd/server/main.go's logger-then-config-then-stores-then-serve shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"gopkg.in/yaml.v3"

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

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("MEM_CLI_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	socketPath := flag.String("socket", "", "override the daemon socket path")
	configPath := flag.String("config", os.Getenv("MEM_CLI_CONFIG"), "optional YAML file overlaying settings.FromEnv()")
	flag.Parse()

	if *socketPath == "" {
		p, err := defaultSocketPath()
		if err != nil {
			logger.Error("resolve default socket path", "error", err)
			os.Exit(1)
		}
		*socketPath = p
	}

	cfg := settings.FromEnv()
	if *configPath != "" {
		overlaid, err := loadConfigOverlay(*configPath, cfg)
		if err != nil {
			logger.Error("load config overlay", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = overlaid
	}

	cache, err := provider.NewCache(4)
	if err != nil {
		logger.Error("create provider cache", "error", err)
		os.Exit(1)
	}

	d := &daemon.Daemon{
		SocketPath:  *socketPath,
		Logger:      logger,
		Cache:       cache,
		MockEnabled: provider.NewMockProviderFromEnv() != nil,
		Factory:     workspaceFactory(cfg, cache),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("memd: signal received, shutting down")
		cancel()
	}()

	logger.Info("memd: starting", "socket", *socketPath)
	if err := d.Serve(ctx); err != nil {
		logger.Error("memd: serve error", "error", err)
		os.Exit(1)
	}
	logger.Info("memd: stopped")
}

// workspaceFactory builds the per-workspace dependency set the daemon
// caches by resolved root, opening one index store and resolving one
// embedding provider (through the warm cache) per distinct workspace.
func workspaceFactory(cfg settings.Settings, cache *provider.Cache) daemon.WorkspaceFactory {
	return func(root string) (*executor.Deps, error) {
		ws := layout.New(root)
		store, err := indexstore.Open(ws.IndexPath())
		if err != nil {
			return nil, fmt.Errorf("open index for %s: %w", root, err)
		}

		p, err := resolveProvider(cfg, cache)
		if err != nil {
			store.Close()
			return nil, err
		}

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
			Logger: slog.Default(),
		}

		return &executor.Deps{Workspace: ws, Settings: cfg, Store: store, Engine: engine, Provider: p}, nil
	}
}

// resolveProvider returns nil (embeddings unavailable) when no model
// path is configured and mock mode is off, matching spec.md §4 which
// treats a missing provider as a degraded-but-valid state for
// non-search commands.
func resolveProvider(cfg settings.Settings, cache *provider.Cache) (provider.Provider, error) {
	if mock := provider.NewMockProviderFromEnv(); mock != nil {
		return cache.GetOrCreate("mock#"+mock.ModelPath(), func() (provider.Provider, error) { return mock, nil })
	}
	if cfg.Embeddings.ModelPath == "" {
		return nil, nil
	}
	key := cfg.Embeddings.ModelPath + "#" + cfg.Embeddings.CacheDir
	return cache.GetOrCreate(key, func() (provider.Provider, error) {
		return provider.NewHTTPProvider(cfg.Embeddings.ModelPath, cfg.Embeddings.ModelPath), nil
	})
}

// loadConfigOverlay reads a YAML file shaped like settings.Settings and
// merges it onto base, so an operator can override only the fields
// they care about. This is the cmd-level "settings parsing" surface
// spec.md §1 deliberately keeps out of the core — the core still only
// ever sees the resulting validated struct.
func loadConfigOverlay(path string, base settings.Settings) (settings.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("read %s: %w", path, err)
	}
	merged := base
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return settings.Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return merged.Normalize(), nil
}

func defaultSocketPath() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	uid := 0
	fmt.Sscanf(u.Uid, "%d", &uid)
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return daemon.SocketPathFor(os.TempDir(), uid, home), nil
}
