// Package compiler is the orchestration layer between callers and the code
// generation backend: it validates shader modules, derives cache keys,
// consults the tiered cache, drives split compilation of graphics pipelines
// and merges partial results into the final binary.
package compiler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shadercomp/internal/cache"
	"shadercomp/internal/elf"
	"shadercomp/internal/engine"
	"shadercomp/internal/metrics"
	"shadercomp/internal/pipeline"
	"shadercomp/internal/spirv"
	"shadercomp/pkg/hash"
)

// Compiler is one live compiler instance, bound to a target version and the
// runtime's current option set.
type Compiler struct {
	runtime  *Runtime
	target   engine.TargetVersion
	opts     *Options
	external *cache.Store
	logger   *zap.Logger
}

// UseExternalCache installs a caller-supplied cache store probed before the
// runtime's internal store on every pipeline lookup.
func (c *Compiler) UseExternalCache(s *cache.Store) {
	c.external = s
}

// Destroy releases the instance. The runtime's option state stays pinned
// until every instance is destroyed.
func (c *Compiler) Destroy() {
	c.runtime.destroyCompiler()
}

// Target returns the instance's GPU target version.
func (c *Compiler) Target() engine.TargetVersion {
	return c.target
}

// scopedKey namespaces a descriptor-derived key by the option fingerprint
// and target version, so caches shared across processes never serve a
// binary compiled under different options or for different hardware.
func (c *Compiler) scopedKey(key hash.Hash) hash.Hash {
	h := hash.New()
	h.WriteHash(c.opts.Fingerprint())
	h.WriteUint32(c.target.Major)
	h.WriteUint32(c.target.Minor)
	h.WriteUint32(c.target.Stepping)
	h.WriteHash(key)
	return h.Sum()
}

// BuildShaderModule validates a SPIR-V binary, trims its debug
// instructions, and returns the module handle used in pipeline descriptors.
// Results are memoized on the trimmed content hash unless the module uses
// specialization constants.
func (c *Compiler) BuildShaderModule(ctx context.Context, code []byte) (*pipeline.ShaderModule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !spirv.IsBinary(code) {
		return nil, fmt.Errorf("%w: not a SPIR-V binary", ErrInvalidShader)
	}
	info, err := spirv.Collect(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShader, err)
	}
	if len(info.EntryPoints) == 0 {
		return nil, fmt.Errorf("%w: module has no entry points", ErrInvalidShader)
	}

	moduleCode := code
	if c.opts.TrimDebugInfo && info.DebugInfoSize > 0 {
		moduleCode, err = spirv.TrimDebugInfo(code)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidShader, err)
		}
	}
	cacheHash := hash.Of(moduleCode)

	if m, ok := c.runtime.modules.Get(cacheHash); ok {
		return m, nil
	}

	entries := make(map[string]pipeline.Stage, len(info.EntryPoints))
	for _, ep := range info.EntryPoints {
		stage, ok := stageForModel(ep.Model)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported execution model %d", ErrInvalidShader, ep.Model)
		}
		entries[ep.Name] = stage
	}

	m := &pipeline.ShaderModule{
		Hash:            hash.Of(code),
		CacheHash:       cacheHash,
		Code:            moduleCode,
		EntryPoints:     entries,
		UseSpecConstant: info.UseSpecConstant,
	}
	c.runtime.modules.Add(cacheHash, m)
	return m, nil
}

func stageForModel(m spirv.ExecutionModel) (pipeline.Stage, bool) {
	switch m {
	case spirv.ExecutionModelVertex:
		return pipeline.StageVertex, true
	case spirv.ExecutionModelTessellationControl:
		return pipeline.StageTessControl, true
	case spirv.ExecutionModelTessellationEvaluation:
		return pipeline.StageTessEval, true
	case spirv.ExecutionModelGeometry:
		return pipeline.StageGeometry, true
	case spirv.ExecutionModelFragment:
		return pipeline.StageFragment, true
	case spirv.ExecutionModelGLCompute:
		return pipeline.StageCompute, true
	}
	return 0, false
}

// BuildGraphicsPipeline compiles a graphics pipeline, serving it from cache
// when possible. On a whole-pipeline miss the fragment and non-fragment
// halves may be compiled and cached independently and merged. Any error
// leaves no claimed cache entries behind.
func (c *Compiler) BuildGraphicsPipeline(ctx context.Context, d *pipeline.GraphicsPipelineDescriptor) ([]byte, error) {
	if err := validateGraphics(d); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.CompileDurationSeconds.WithLabelValues("graphics").Observe(time.Since(start).Seconds())
	}()

	keys := pipeline.GraphicsKeys(d)
	key := c.scopedKey(keys.CacheKey)
	log := c.logger.With(
		zap.String("pipeline", keys.PipelineKey.Hex()[:16]),
		zap.String("name", d.DebugName))

	acc := c.lookupCaches(ctx, key, "pipeline")
	if acc.hit() {
		log.Debug("pipeline cache hit")
		return acc.blob, nil
	}

	pc, err := c.runtime.pool.Acquire(c.target)
	if err != nil {
		acc.abandon()
		return nil, err
	}
	defer c.runtime.pool.Release(pc)

	analysis, err := c.runtime.backend.Analyze(ctx, pc.Env(), d)
	if err != nil {
		acc.abandon()
		return nil, fmt.Errorf("%w: %v", ErrInvalidShader, err)
	}

	var blob []byte
	if c.splitAllowed(d, analysis) {
		blob, err = c.buildSplit(ctx, pc.Env(), d, analysis, log)
	} else {
		blob, err = c.runtime.backend.CompileGraphics(ctx, pc.Env(), d, d.StageMask())
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidShader, err)
		}
	}
	if err != nil {
		acc.abandon()
		return nil, err
	}

	acc.commit(ctx, blob)
	log.Debug("pipeline compiled", zap.Int("size", len(blob)))
	return blob, nil
}

// BuildComputePipeline compiles a single compute stage, cache-first.
func (c *Compiler) BuildComputePipeline(ctx context.Context, d *pipeline.ComputePipelineDescriptor) ([]byte, error) {
	if d.Compute.Module == nil {
		return nil, fmt.Errorf("%w: no compute shader", ErrInvalidConfiguration)
	}
	start := time.Now()
	defer func() {
		metrics.CompileDurationSeconds.WithLabelValues("compute").Observe(time.Since(start).Seconds())
	}()

	keys := pipeline.ComputeKeys(d)
	key := c.scopedKey(keys.CacheKey)

	acc := c.lookupCaches(ctx, key, "pipeline")
	if acc.hit() {
		return acc.blob, nil
	}

	pc, err := c.runtime.pool.Acquire(c.target)
	if err != nil {
		acc.abandon()
		return nil, err
	}
	defer c.runtime.pool.Release(pc)

	blob, err := c.runtime.backend.CompileCompute(ctx, pc.Env(), d)
	if err != nil {
		acc.abandon()
		return nil, fmt.Errorf("%w: %v", ErrInvalidShader, err)
	}
	acc.commit(ctx, blob)
	return blob, nil
}

func validateGraphics(d *pipeline.GraphicsPipelineDescriptor) error {
	mask := d.StageMask()
	if mask == 0 {
		return fmt.Errorf("%w: no shader stages", ErrInvalidConfiguration)
	}
	for s := pipeline.StageVertex; s < pipeline.Stage(pipeline.GraphicsStageCount); s++ {
		info := d.StageInfo(s)
		if info == nil || info.Module == nil {
			continue
		}
		if info.EntryPoint == "" {
			return fmt.Errorf("%w: stage %s has no entry point", ErrInvalidConfiguration, s.Abbrev())
		}
		if stage, ok := info.Module.EntryPoints[info.EntryPoint]; !ok || stage != s {
			return fmt.Errorf("%w: module has no %s entry point %q", ErrInvalidShader, s.Abbrev(), info.EntryPoint)
		}
	}
	return nil
}

// mergeImages parses the two halves and splices them into one binary.
func mergeImages(fragment, nonFragment []byte) ([]byte, error) {
	fragIm, err := elf.Parse(fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	baseIm, err := elf.Parse(nonFragment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	merged, err := elf.Merge(fragIm, baseIm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	out, err := merged.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	metrics.ElfMergesTotal.Inc()
	return out, nil
}
