// Package coreerr gives the error kinds in spec.md §7 a concrete shape
// callers can match on with errors.As, instead of string-sniffing
// fmt.Errorf messages the way the teacher's stores do internally.
package coreerr

import "fmt"

// Kind classifies a core error for the CLI front-end to render and
// choose an exit code from. Kinds are not Go types; a single CoreError
// struct carries one.
type Kind string

const (
	KindInvalidInput           Kind = "invalid_input"
	KindWorkspaceNotInit       Kind = "workspace_not_initialized"
	KindAccessDenied           Kind = "access_denied"
	KindEmbeddingsUnavailable  Kind = "embeddings_unavailable"
	KindIndexCorrupt           Kind = "index_corrupt"
	KindLockTimeout            Kind = "lock_timeout"
	KindVersionMismatch        Kind = "version_mismatch"
	KindTransientIO            Kind = "transient_io"
)

// CoreError wraps an underlying error with a Kind the CLI collaborator
// can branch on, per spec.md §7's propagation policy: the core returns
// structured errors, only the CLI renders them to users.
type CoreError struct {
	Kind Kind
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New wraps err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &CoreError{Kind: kind, Err: err}
}

// Newf constructs a CoreError from a format string, with no underlying
// wrapped error.
func Newf(kind Kind, format string, args ...any) error {
	return &CoreError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	for err != nil {
		if c, ok := err.(*CoreError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}
