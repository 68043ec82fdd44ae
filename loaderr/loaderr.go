// Package loaderr defines the error kinds shared across the loader
// (spec §7). Callers compare against these with errors.Is; components
// wrap a Kind with fmt.Errorf's %w or inside a richer error type (e.g.
// linkage's not-found error, which unwraps to NotFound) where extra
// context is useful.
package loaderr

import "errors"

// Kind is a sentinel error identifying one of the categories in spec
// §7. Wrap it with fmt.Errorf("...: %w", Kind) or a dedicated error
// type that implements Unwrap() error returning it.
type Kind string

func (k Kind) Error() string { return string(k) }

// Is lets a Kind match itself and any error chain ending in it,
// without requiring every wrapper to be a *Kind.
func (k Kind) Is(target error) bool {
	var other Kind
	if errors.As(target, &other) {
		return other == k
	}
	return false
}

const (
	InvalidName            Kind = "invalid module name"
	MalformedDescriptor     Kind = "malformed descriptor"
	ArchiveIoException       Kind = "archive i/o error"
	NoCompiler              Kind = "no compiler plugin claims this archive"
	CompileFailure          Kind = "compiler rejected archive"
	LinkageFailure          Kind = "dependency could not be resolved at load time"
	HigherRevisionAvailable Kind = "candidate is older than the current revision"
	HashMismatch            Kind = "archive content hash mismatch"
	NotFound                Kind = "not found"
)
