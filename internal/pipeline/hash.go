package pipeline

import "shadercomp/pkg/hash"

// Keys identifies a pipeline two ways. PipelineKey covers everything in the
// descriptor, including labels that do not change the compiled output, and
// names the build in dumps and logs. CacheKey covers only compile-relevant
// state and addresses the compiled artifact in the cache.
type Keys struct {
	PipelineKey hash.Hash
	CacheKey    hash.Hash
}

// SplitKeys addresses the two halves of a graphics pipeline cached
// separately. A zero hash marks an empty partition.
type SplitKeys struct {
	Fragment    hash.Hash
	NonFragment hash.Hash
}

// GraphicsKeys derives the pipeline and cache keys for a graphics build.
// Pure: equal descriptors always produce equal keys.
func GraphicsKeys(d *GraphicsPipelineDescriptor) Keys {
	c := hash.New()
	hashGraphicsStages(c, d)
	hashNonFragmentState(c, d)
	hashFragmentState(c, d)
	hashOptions(c, d.Options)
	cacheKey := c.Sum()

	p := hash.New()
	p.WriteHash(cacheKey)
	p.WriteString(d.DebugName)
	return Keys{PipelineKey: p.Sum(), CacheKey: cacheKey}
}

// ComputeKeys derives the pipeline and cache keys for a compute build.
func ComputeKeys(d *ComputePipelineDescriptor) Keys {
	c := hash.New()
	hashStageInfo(c, StageCompute, &d.Compute)
	hashOptions(c, d.Options)
	cacheKey := c.Sum()

	p := hash.New()
	p.WriteHash(cacheKey)
	p.WriteString(d.DebugName)
	return Keys{PipelineKey: p.Sum(), CacheKey: cacheKey}
}

// StageSplitKeys derives the per-partition cache keys used when the fragment
// and non-fragment halves of a graphics pipeline are compiled and cached
// independently. usage carries per-stage resource usage hashes supplied by
// the backend; absent stages contribute nothing.
func StageSplitKeys(d *GraphicsPipelineDescriptor, usage map[Stage]hash.Hash) SplitKeys {
	var keys SplitKeys
	mask := d.StageMask()

	if mask.Has(StageFragment) {
		h := hash.New()
		hashSplitStage(h, StageFragment, d, usage)
		hashFragmentState(h, d)
		hashOptions(h, d.Options)
		keys.Fragment = h.Sum()
	}
	if mask.NonFragment() != 0 {
		h := hash.New()
		for s := StageVertex; s < Stage(GraphicsStageCount); s++ {
			if s == StageFragment || !mask.Has(s) {
				continue
			}
			hashSplitStage(h, s, d, usage)
		}
		hashNonFragmentState(h, d)
		hashOptions(h, d.Options)
		keys.NonFragment = h.Sum()
	}
	return keys
}

func hashSplitStage(h *hash.Hasher, s Stage, d *GraphicsPipelineDescriptor, usage map[Stage]hash.Hash) {
	hashStageInfo(h, s, d.StageInfo(s))
	if u, ok := usage[s]; ok {
		h.WriteHash(u)
	}
}

func hashGraphicsStages(h *hash.Hasher, d *GraphicsPipelineDescriptor) {
	for s := StageVertex; s < Stage(GraphicsStageCount); s++ {
		info := d.StageInfo(s)
		if info == nil || info.Module == nil {
			continue
		}
		hashStageInfo(h, s, info)
	}
}

func hashStageInfo(h *hash.Hasher, s Stage, info *ShaderStageInfo) {
	if info == nil || info.Module == nil {
		return
	}
	h.WriteUint32(uint32(s))
	h.WriteHash(info.Module.CacheHash)
	h.WriteString(info.EntryPoint)
	h.WriteUint32(uint32(len(info.SpecConstants)))
	for _, sc := range info.SpecConstants {
		h.WriteUint32(sc.ID)
		h.WriteUint32(uint32(len(sc.Value)))
		h.Write(sc.Value)
	}
}

func hashNonFragmentState(h *hash.Hasher, d *GraphicsPipelineDescriptor) {
	h.WriteUint32(uint32(len(d.VertexInput.Bindings)))
	for _, b := range d.VertexInput.Bindings {
		h.WriteUint32(b.Binding)
		h.WriteUint32(b.Stride)
		h.WriteBool(b.PerInstance)
	}
	h.WriteUint32(uint32(len(d.VertexInput.Attributes)))
	for _, a := range d.VertexInput.Attributes {
		h.WriteUint32(a.Location)
		h.WriteUint32(a.Binding)
		h.WriteUint32(a.Format)
		h.WriteUint32(a.Offset)
	}
	h.WriteUint32(d.InputAssembly.Topology)
	h.WriteUint32(d.InputAssembly.PatchControlPoints)
	h.WriteUint32(d.Rasterizer.CullMode)
	h.WriteBool(d.Rasterizer.FrontFaceCW)
	h.WriteBool(d.Rasterizer.DepthClampNear)
	h.WriteBool(d.Rasterizer.RasterizerDiscard)
	h.WriteUint32(d.DeviceIndex)
}

func hashFragmentState(h *hash.Hasher, d *GraphicsPipelineDescriptor) {
	h.WriteUint32(uint32(len(d.ColorBlend.Targets)))
	for _, t := range d.ColorBlend.Targets {
		h.WriteUint32(t.Format)
		h.WriteBool(t.BlendEnable)
		h.Write([]byte{t.ChannelWriteMask})
	}
	h.WriteBool(d.ColorBlend.DualSourceBlend)
	h.WriteUint32(d.DepthStencil.Format)
	h.WriteBool(d.DepthStencil.DepthTest)
	h.WriteBool(d.DepthStencil.DepthWrite)
	h.WriteBool(d.DepthStencil.StencilTest)
}

func hashOptions(h *hash.Hasher, o Options) {
	h.WriteBool(o.IncludeDisassembly)
	h.WriteBool(o.IncludeIR)
	h.WriteBool(o.ScalarBlockLayout)
	h.WriteBool(o.RobustBufferAccess)
}
