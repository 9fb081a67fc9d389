// Package settings holds the validated configuration struct the core
// consumes. Parsing and migrating raw settings is explicitly out of
// scope for the core (spec.md §1) — this package defines the shape,
// its Default values and Normalize clamping, plus the FromEnv helper in
// envhelpers.go; constructing and validating one is the caller's job
// (cmd/memd does it with FromEnv, following the teacher's config.Load
// pattern, then optionally overlays a YAML file).
package settings

// Chunking mirrors models.ChunkParams at the settings boundary.
type Chunking struct {
	Tokens        int `yaml:"tokens"`
	Overlap       int `yaml:"overlap"`
	MinChars      int `yaml:"min_chars"`
	CharsPerToken int `yaml:"chars_per_token"`
}

// Embeddings describes how to reach and cache the embedding provider.
type Embeddings struct {
	ModelPath            string `yaml:"model_path"`
	CacheDir             string `yaml:"cache_dir"`
	BatchMaxTokens       int    `yaml:"batch_max_tokens"`
	ApproxCharsPerToken  int    `yaml:"approx_chars_per_token"`
	CacheLookupBatchSize int    `yaml:"cache_lookup_batch_size"`
}

// Search tunes result size and snippet length.
type Search struct {
	Limit           int `yaml:"limit"`
	SnippetMaxChars int `yaml:"snippet_max_chars"`
}

// Debug controls diagnostic output.
type Debug struct {
	Vector bool `yaml:"vector"`
}

// Settings is the configuration struct the core consumes, per spec.md §6.
type Settings struct {
	Chunking   Chunking   `yaml:"chunking"`
	Embeddings Embeddings `yaml:"embeddings"`
	Search     Search     `yaml:"search"`
	Debug      Debug      `yaml:"debug"`
}

// Default chunking values match the teacher's defaults-by-fallback
// idiom (config.Load's envInt/envFloat with sane defaults), sized so
// that maxChars comes out to a few hundred characters for typical
// English prose.
func Default() Settings {
	return Settings{
		Chunking: Chunking{
			Tokens:        200,
			Overlap:       20,
			MinChars:      64,
			CharsPerToken: 4,
		},
		Embeddings: Embeddings{
			BatchMaxTokens:       2048,
			ApproxCharsPerToken:  4,
			CacheLookupBatchSize: 500,
		},
		Search: Search{
			Limit:           10,
			SnippetMaxChars: 240,
		},
	}
}

// Normalize clamps dependent fields the way spec.md §6 requires
// (overlap must not exceed tokens-1) and applies floors to the other
// chunking fields; embedding and search fields are returned as given.
// Callers validate the rest.
func (s Settings) Normalize() Settings {
	if s.Chunking.Tokens < 1 {
		s.Chunking.Tokens = 1
	}
	if s.Chunking.Overlap < 0 {
		s.Chunking.Overlap = 0
	}
	if s.Chunking.Overlap > s.Chunking.Tokens-1 {
		s.Chunking.Overlap = s.Chunking.Tokens - 1
	}
	if s.Chunking.MinChars < 1 {
		s.Chunking.MinChars = 1
	}
	if s.Chunking.CharsPerToken < 1 {
		s.Chunking.CharsPerToken = 1
	}
	return s
}
