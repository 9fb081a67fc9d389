// Package daemon implements the long-lived worker daemon (spec.md
// §4.7): a line-framed JSON protocol over a local socket, a
// single-threaded FIFO request queue, version handshake, idle
// shutdown, and a warm embedding-provider cache. Grounded on
// internal/mcp/server.go's stdio read loop and internal/mcp/protocol.go's
// request/response envelope shapes, generalized from JSON-RPC over
// stdio to a flatter ping/shutdown/run envelope over a UNIX socket.
package daemon

// Request is one line of client input. RequestID is a client-generated
// correlation ID (not part of the protocol's version handshake) that
// the daemon echoes back and includes in its own log lines, so a
// client's retry-after-restartRequired sequence can be traced through
// daemon logs even though the underlying TCP/UNIX connection changes.
type Request struct {
	Type            string   `json:"type"`
	ProtocolVersion int      `json:"protocolVersion"`
	ClientVersion   string   `json:"clientVersion,omitempty"`
	RequestID       string   `json:"requestId,omitempty"`
	Argv            []string `json:"argv,omitempty"`
	Stdin           string   `json:"stdin,omitempty"`
}

// EmbeddingsStatus surfaces the provider cache's counters so a client
// can prove single-load-under-storm (spec.md §8 scenario 6).
type EmbeddingsStatus struct {
	ProviderCacheSize   int  `json:"providerCacheSize"`
	ProviderCreateCount int  `json:"providerCreateCount"`
	LlamaInitCount      int  `json:"llamaInitCount"`
	ModelLoadCount      int  `json:"modelLoadCount"`
	ContextCreateCount  int  `json:"contextCreateCount"`
	MockEnabled         bool `json:"mockEnabled"`
}

// Response is one line of daemon output.
type Response struct {
	OK              bool              `json:"ok"`
	ProtocolVersion int               `json:"protocolVersion,omitempty"`
	DaemonVersion   string            `json:"daemonVersion,omitempty"`
	RequestID       string            `json:"requestId,omitempty"`
	PID             int               `json:"pid,omitempty"`
	StartedAt       int64             `json:"startedAt,omitempty"`
	Embeddings      *EmbeddingsStatus `json:"embeddings,omitempty"`
	ExitCode        int               `json:"exitCode,omitempty"`
	Stdout          string            `json:"stdout,omitempty"`
	Stderr          string            `json:"stderr,omitempty"`
	RestartRequired bool              `json:"restartRequired,omitempty"`
	Error           string            `json:"error,omitempty"`
}
