// Package pipeline defines the pipeline build descriptors and derives the
// cache keys that identify their compiled artifacts.
package pipeline

import "shadercomp/pkg/hash"

// Stage identifies one shader stage.
type Stage int

const (
	StageVertex Stage = iota
	StageTessControl
	StageTessEval
	StageGeometry
	StageFragment
	StageCompute

	StageCount
)

// GraphicsStageCount is the number of graphics stages (all but compute).
const GraphicsStageCount = int(StageCompute)

// Abbrev returns the stage abbreviation used in symbol names and logs.
func (s Stage) Abbrev() string {
	switch s {
	case StageVertex:
		return "vs"
	case StageTessControl:
		return "tcs"
	case StageTessEval:
		return "tes"
	case StageGeometry:
		return "gs"
	case StageFragment:
		return "ps"
	case StageCompute:
		return "cs"
	}
	return "unknown"
}

// StageMask is a bit set of stages.
type StageMask uint32

func (s Stage) Mask() StageMask {
	return 1 << uint(s)
}

func (m StageMask) Has(s Stage) bool {
	return m&s.Mask() != 0
}

// NonFragment strips the fragment bit.
func (m StageMask) NonFragment() StageMask {
	return m &^ StageFragment.Mask()
}

// ShaderModule is a validated shader binary plus the information collected
// from scanning it. Built once per module and shared across pipelines.
type ShaderModule struct {
	// Hash identifies the module as supplied by the caller.
	Hash hash.Hash
	// CacheHash identifies the module content after debug-info trimming;
	// it feeds every cache key so debug builds share cache entries with
	// release builds of the same shader.
	CacheHash hash.Hash
	// Code is the (possibly trimmed) SPIR-V binary.
	Code []byte
	// EntryPoints maps entry names to their stages.
	EntryPoints map[string]Stage
	// UseSpecConstant notes that the module declares specialization
	// constants, which disables module-level optimization caching.
	UseSpecConstant bool
}

// SpecConstant is one specialization-constant binding.
type SpecConstant struct {
	ID    uint32
	Value []byte
}

// ShaderStageInfo attaches a module's entry point to a pipeline stage.
type ShaderStageInfo struct {
	Module        *ShaderModule
	EntryPoint    string
	SpecConstants []SpecConstant
}

type VertexBinding struct {
	Binding     uint32
	Stride      uint32
	PerInstance bool
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   uint32
	Offset   uint32
}

type VertexInputState struct {
	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

type InputAssemblyState struct {
	Topology           uint32
	PatchControlPoints uint32
}

type RasterizerState struct {
	CullMode          uint32
	FrontFaceCW       bool
	DepthClampNear    bool
	RasterizerDiscard bool
}

// ColorTarget is one render target's format and blend configuration.
// Fragment-partition state: it only affects fragment compilation.
type ColorTarget struct {
	Format           uint32
	BlendEnable      bool
	ChannelWriteMask uint8
}

type ColorBlendState struct {
	Targets         []ColorTarget
	DualSourceBlend bool
}

type DepthStencilState struct {
	Format      uint32
	DepthTest   bool
	DepthWrite  bool
	StencilTest bool
}

// Options is pipeline-level compilation options. All of these affect the
// produced binary and therefore the cache key.
type Options struct {
	IncludeDisassembly bool
	IncludeIR          bool
	ScalarBlockLayout  bool
	RobustBufferAccess bool
}

// GraphicsPipelineDescriptor describes one graphics pipeline build request.
type GraphicsPipelineDescriptor struct {
	Vertex      *ShaderStageInfo
	TessControl *ShaderStageInfo
	TessEval    *ShaderStageInfo
	Geometry    *ShaderStageInfo
	Fragment    *ShaderStageInfo

	VertexInput   VertexInputState
	InputAssembly InputAssemblyState
	Rasterizer    RasterizerState
	ColorBlend    ColorBlendState
	DepthStencil  DepthStencilState
	DeviceIndex   uint32

	Options Options

	// DebugName labels dumps and logs. It never affects the cache key.
	DebugName string
}

// StageInfo returns the stage's info, or nil if the stage is inactive.
func (d *GraphicsPipelineDescriptor) StageInfo(s Stage) *ShaderStageInfo {
	switch s {
	case StageVertex:
		return d.Vertex
	case StageTessControl:
		return d.TessControl
	case StageTessEval:
		return d.TessEval
	case StageGeometry:
		return d.Geometry
	case StageFragment:
		return d.Fragment
	}
	return nil
}

// StageMask returns the set of active stages.
func (d *GraphicsPipelineDescriptor) StageMask() StageMask {
	var m StageMask
	for s := StageVertex; s < Stage(GraphicsStageCount); s++ {
		if info := d.StageInfo(s); info != nil && info.Module != nil {
			m |= s.Mask()
		}
	}
	return m
}

// ComputePipelineDescriptor describes one compute pipeline build request.
type ComputePipelineDescriptor struct {
	Compute ShaderStageInfo
	Options Options

	DebugName string
}
