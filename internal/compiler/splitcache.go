package compiler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shadercomp/internal/engine"
	"shadercomp/internal/pipeline"
)

// splitAllowed gates per-stage caching. Splitting needs a vertex and a
// fragment stage, the policy flag, and no global constant reachable from a
// non-fragment stage: such constants are appended to the binary in a way
// that ties the partitions together, so the pipeline must compile whole.
func (c *Compiler) splitAllowed(d *pipeline.GraphicsPipelineDescriptor, analysis *engine.Analysis) bool {
	mask := d.StageMask()
	return c.opts.EnableSplitCache &&
		mask.Has(pipeline.StageVertex) &&
		mask.Has(pipeline.StageFragment) &&
		!analysis.CrossStageConstants()
}

// buildSplit compiles a graphics pipeline through the per-stage caches:
// each half is served from its partition cache or compiled on miss, then
// the two halves are merged. Partition claims held by other callers are not
// waited on; this caller compiles the half redundantly and the store keeps
// the in-flight entry.
func (c *Compiler) buildSplit(ctx context.Context, env *engine.Environment, d *pipeline.GraphicsPipelineDescriptor, analysis *engine.Analysis, log *zap.Logger) ([]byte, error) {
	keys := pipeline.StageSplitKeys(d, analysis.StageUsage)

	fragAcc := c.lookupCaches(ctx, c.scopedKey(keys.Fragment), "fragment")
	nonFragAcc := c.lookupCaches(ctx, c.scopedKey(keys.NonFragment), "non_fragment")

	abandonAll := func() {
		fragAcc.abandon()
		nonFragAcc.abandon()
	}

	frag := fragAcc.blob
	if frag == nil {
		var err error
		frag, err = c.runtime.backend.CompileGraphics(ctx, env, d, pipeline.StageFragment.Mask())
		if err != nil {
			abandonAll()
			return nil, fmt.Errorf("%w: fragment half: %v", ErrInvalidShader, err)
		}
		fragAcc.commit(ctx, frag)
	}

	nonFrag := nonFragAcc.blob
	if nonFrag == nil {
		var err error
		nonFrag, err = c.runtime.backend.CompileGraphics(ctx, env, d, d.StageMask().NonFragment())
		if err != nil {
			abandonAll()
			return nil, fmt.Errorf("%w: non-fragment half: %v", ErrInvalidShader, err)
		}
		nonFragAcc.commit(ctx, nonFrag)
	}

	log.Debug("split compile",
		zap.Bool("fragment_hit", fragAcc.hit()),
		zap.Bool("non_fragment_hit", nonFragAcc.hit()))

	return mergeImages(frag, nonFrag)
}
