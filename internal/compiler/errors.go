package compiler

import "errors"

// Build failures fall into four caller-visible classes. Soft cache misses
// (cache.ErrUnknown) never reach the caller; they are recovered internally
// by recompiling.
var (
	// ErrInvalidConfiguration reports conflicting or unparseable options.
	// Not retryable; the caller must recreate the compiler.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidShader reports a malformed input binary or a failure inside
	// the code generation backend. The cache claim is reset so a later
	// attempt with different input can retry.
	ErrInvalidShader = errors.New("invalid shader")

	// ErrOutOfMemory reports an allocation failure building a compilation
	// environment or output buffer. No partial state is committed.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrCorruptArtifact reports a structural mismatch in a compiled
	// binary: a missing section or symbol during merge or statistics
	// extraction.
	ErrCorruptArtifact = errors.New("corrupt artifact")
)
