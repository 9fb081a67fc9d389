// Package buildinfo holds the daemon wire protocol's version constants,
// read by the ping/version-handshake code in internal/daemon and
// internal/daemonclient (spec.md §4.7).
package buildinfo

// ProtocolVersion is a monotonically increasing integer. Any mismatch
// between client and daemon triggers restartRequired.
const ProtocolVersion = 1

// Version is the daemon's build version string, compared against the
// client's self-reported clientVersion on every ping/run.
const Version = "0.1.0"
