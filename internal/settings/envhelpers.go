package settings

import (
	"os"
	"strconv"
)

// envStr, envInt, and envBool follow the teacher's config.Load helper
// idiom (internal/config/config.go) verbatim — they exist here only to
// support FromEnv below, since the core itself never parses env vars.

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// FromEnv builds a Settings from MEM_CLI_* environment variables,
// falling back to Default() for anything unset. This is outer-binary
// scaffolding only (spec.md explicitly excludes settings parsing from
// the core); cmd/memd calls it to build the base Settings it then
// optionally overlays with a YAML config file.
func FromEnv() Settings {
	d := Default()
	s := Settings{
		Chunking: Chunking{
			Tokens:        envInt("MEM_CLI_CHUNK_TOKENS", d.Chunking.Tokens),
			Overlap:       envInt("MEM_CLI_CHUNK_OVERLAP", d.Chunking.Overlap),
			MinChars:      envInt("MEM_CLI_CHUNK_MIN_CHARS", d.Chunking.MinChars),
			CharsPerToken: envInt("MEM_CLI_CHUNK_CHARS_PER_TOKEN", d.Chunking.CharsPerToken),
		},
		Embeddings: Embeddings{
			ModelPath:            envStr("MEM_CLI_EMBEDDINGS_MODEL_PATH", ""),
			CacheDir:             envStr("MEM_CLI_EMBEDDINGS_CACHE_DIR", ""),
			BatchMaxTokens:       envInt("MEM_CLI_EMBEDDINGS_BATCH_MAX_TOKENS", d.Embeddings.BatchMaxTokens),
			ApproxCharsPerToken:  envInt("MEM_CLI_EMBEDDINGS_APPROX_CHARS_PER_TOKEN", d.Embeddings.ApproxCharsPerToken),
			CacheLookupBatchSize: envInt("MEM_CLI_EMBEDDINGS_CACHE_LOOKUP_BATCH_SIZE", d.Embeddings.CacheLookupBatchSize),
		},
		Search: Search{
			Limit:           envInt("MEM_CLI_SEARCH_LIMIT", d.Search.Limit),
			SnippetMaxChars: envInt("MEM_CLI_SEARCH_SNIPPET_MAX_CHARS", d.Search.SnippetMaxChars),
		},
		Debug: Debug{
			Vector: envBool("MEM_CLI_DEBUG_VECTOR", false),
		},
	}
	return s.Normalize()
}
