// Package engine defines the code-generation backend interface and ships a
// reference backend used for development and tests.
package engine

import (
	"context"

	"shadercomp/internal/pipeline"
	"shadercomp/pkg/hash"
)

// GlobalConstant is a module-scope constant and the set of stages reading it.
// Constants read outside the fragment stage tie partitions together and
// disable split caching for the pipeline.
type GlobalConstant struct {
	Name  string
	Users pipeline.StageMask
}

// Analysis is the backend's pre-compile report for a graphics pipeline.
type Analysis struct {
	// StageUsage carries one resource-usage digest per active stage. The
	// digests feed the per-partition cache keys, so two pipelines sharing
	// a stage hit the same partition entry only when the stage's resource
	// interface also matches.
	StageUsage map[pipeline.Stage]hash.Hash

	GlobalConstants []GlobalConstant
}

// CrossStageConstants reports whether any global constant is read by a
// non-fragment stage.
func (a *Analysis) CrossStageConstants() bool {
	for _, gc := range a.GlobalConstants {
		if gc.Users.NonFragment() != 0 {
			return true
		}
	}
	return false
}

// Backend turns pipeline descriptors into relocatable code objects.
//
// CompileGraphics compiles only the stages selected by the mask; compiling a
// strict subset of the descriptor's stages must produce an image that merges
// with the complementary subset into the same bytes a full compile yields.
type Backend interface {
	Name() string

	Analyze(ctx context.Context, env *Environment, d *pipeline.GraphicsPipelineDescriptor) (*Analysis, error)

	CompileGraphics(ctx context.Context, env *Environment, d *pipeline.GraphicsPipelineDescriptor, stages pipeline.StageMask) ([]byte, error)

	CompileCompute(ctx context.Context, env *Environment, d *pipeline.ComputePipelineDescriptor) ([]byte, error)
}
