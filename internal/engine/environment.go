package engine

import "fmt"

// TargetVersion identifies the GPU generation code is generated for.
type TargetVersion struct {
	Major    uint32
	Minor    uint32
	Stepping uint32
}

func (t TargetVersion) String() string {
	return fmt.Sprintf("gfx%d%d%d", t.Major, t.Minor, t.Stepping)
}

// workspaceSize is the scratch buffer carried by each environment. Sized for
// a typical single-pipeline compile so steady-state compiles do not allocate.
const workspaceSize = 64 << 10

// Environment is a reusable compilation environment bound to one target
// version. It is never shared: the pool owns it while free, exactly one
// caller owns it while checked out.
type Environment struct {
	Target TargetVersion

	// Workspace is scratch storage for the backend, reused across
	// compiles. Contents are transient.
	Workspace []byte

	// Diagnostics accumulates backend messages for the current compile.
	Diagnostics []string
}

// NewEnvironment constructs an environment for the target. Construction is
// the expensive step the pool exists to amortize.
func NewEnvironment(target TargetVersion) (*Environment, error) {
	return &Environment{
		Target:    target,
		Workspace: make([]byte, 0, workspaceSize),
	}, nil
}

// ResetTransient clears per-compile state so the environment can be handed
// to the next caller.
func (e *Environment) ResetTransient() {
	e.Workspace = e.Workspace[:0]
	e.Diagnostics = e.Diagnostics[:0]
}
