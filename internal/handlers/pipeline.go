// Package handlers exposes the compiler over HTTP: pipeline build requests
// come in as JSON with base64 shader binaries, compiled ELF images go back
// out the same way.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"shadercomp/internal/compiler"
	"shadercomp/internal/pipeline"
	"shadercomp/pkg/logging/logging"
)

// PipelineHandler holds dependencies for the /v1/pipelines endpoints.
type PipelineHandler struct {
	Compiler *compiler.Compiler
}

func NewPipelineHandler(c *compiler.Compiler) *PipelineHandler {
	return &PipelineHandler{Compiler: c}
}

// StageRequest is one shader stage in a build request.
type StageRequest struct {
	// Code is the base64-encoded SPIR-V binary.
	Code       string `json:"code"`
	EntryPoint string `json:"entry_point"`
}

// OptionsRequest mirrors pipeline.Options.
type OptionsRequest struct {
	IncludeDisassembly bool `json:"include_disassembly,omitempty"`
	IncludeIR          bool `json:"include_ir,omitempty"`
	ScalarBlockLayout  bool `json:"scalar_block_layout,omitempty"`
	RobustBufferAccess bool `json:"robust_buffer_access,omitempty"`
}

// ColorTargetRequest is one render target's format and blend state.
type ColorTargetRequest struct {
	Format           uint32 `json:"format"`
	BlendEnable      bool   `json:"blend_enable,omitempty"`
	ChannelWriteMask uint8  `json:"channel_write_mask,omitempty"`
}

// GraphicsRequest is the body of POST /v1/pipelines/graphics. Stages are
// keyed by name: vertex, tess_control, tess_eval, geometry, fragment.
type GraphicsRequest struct {
	Stages       map[string]StageRequest `json:"stages"`
	Topology     uint32                  `json:"topology,omitempty"`
	DeviceIndex  uint32                  `json:"device_index,omitempty"`
	ColorTargets []ColorTargetRequest    `json:"color_targets,omitempty"`
	Options      OptionsRequest          `json:"options,omitempty"`
	DebugName    string                  `json:"debug_name,omitempty"`
}

// ComputeRequest is the body of POST /v1/pipelines/compute.
type ComputeRequest struct {
	Compute   StageRequest   `json:"compute"`
	Options   OptionsRequest `json:"options,omitempty"`
	DebugName string         `json:"debug_name,omitempty"`
}

// BuildResponse carries the compiled pipeline binary.
type BuildResponse struct {
	Binary string `json:"binary"` // base64 ELF image
	Size   int    `json:"size"`
}

var stageNames = map[string]pipeline.Stage{
	"vertex":       pipeline.StageVertex,
	"tess_control": pipeline.StageTessControl,
	"tess_eval":    pipeline.StageTessEval,
	"geometry":     pipeline.StageGeometry,
	"fragment":     pipeline.StageFragment,
}

// BuildGraphics handles POST /v1/pipelines/graphics.
func (h *PipelineHandler) BuildGraphics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req GraphicsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	d := &pipeline.GraphicsPipelineDescriptor{
		InputAssembly: pipeline.InputAssemblyState{Topology: req.Topology},
		DeviceIndex:   req.DeviceIndex,
		Options:       requestOptions(req.Options),
		DebugName:     req.DebugName,
	}
	for _, t := range req.ColorTargets {
		d.ColorBlend.Targets = append(d.ColorBlend.Targets, pipeline.ColorTarget{
			Format:           t.Format,
			BlendEnable:      t.BlendEnable,
			ChannelWriteMask: t.ChannelWriteMask,
		})
	}

	for name, sr := range req.Stages {
		stage, ok := stageNames[name]
		if !ok {
			http.Error(w, "unknown stage "+name, http.StatusBadRequest)
			return
		}
		info, err := h.buildStage(r, sr)
		if err != nil {
			h.writeError(w, logger, err)
			return
		}
		switch stage {
		case pipeline.StageVertex:
			d.Vertex = info
		case pipeline.StageTessControl:
			d.TessControl = info
		case pipeline.StageTessEval:
			d.TessEval = info
		case pipeline.StageGeometry:
			d.Geometry = info
		case pipeline.StageFragment:
			d.Fragment = info
		}
	}

	blob, err := h.Compiler.BuildGraphicsPipeline(ctx, d)
	if err != nil {
		h.writeError(w, logger, err)
		return
	}

	logger.Info("pipeline_build",
		zap.String("kind", "graphics"),
		zap.String("debug_name", req.DebugName),
		zap.Int("size", len(blob)),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	h.writeJSON(w, BuildResponse{Binary: base64.StdEncoding.EncodeToString(blob), Size: len(blob)})
}

// BuildCompute handles POST /v1/pipelines/compute.
func (h *PipelineHandler) BuildCompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	info, err := h.buildStage(r, req.Compute)
	if err != nil {
		h.writeError(w, logger, err)
		return
	}

	d := &pipeline.ComputePipelineDescriptor{
		Compute:   *info,
		Options:   requestOptions(req.Options),
		DebugName: req.DebugName,
	}
	blob, err := h.Compiler.BuildComputePipeline(ctx, d)
	if err != nil {
		h.writeError(w, logger, err)
		return
	}

	logger.Info("pipeline_build",
		zap.String("kind", "compute"),
		zap.String("debug_name", req.DebugName),
		zap.Int("size", len(blob)),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	h.writeJSON(w, BuildResponse{Binary: base64.StdEncoding.EncodeToString(blob), Size: len(blob)})
}

// StatisticsRequest is the body of POST /v1/pipelines/statistics.
type StatisticsRequest struct {
	Binary string `json:"binary"` // base64 ELF image
}

// Statistics handles POST /v1/pipelines/statistics.
func (h *PipelineHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	logger := logging.L(r.Context())

	var req StatisticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	binary, err := base64.StdEncoding.DecodeString(req.Binary)
	if err != nil {
		http.Error(w, "invalid base64 binary", http.StatusBadRequest)
		return
	}

	stats, err := h.Compiler.GetPipelineStatistics(binary)
	if err != nil {
		h.writeError(w, logger, err)
		return
	}
	h.writeJSON(w, stats)
}

func (h *PipelineHandler) buildStage(r *http.Request, sr StageRequest) (*pipeline.ShaderStageInfo, error) {
	code, err := base64.StdEncoding.DecodeString(sr.Code)
	if err != nil {
		return nil, compiler.ErrInvalidShader
	}
	module, err := h.Compiler.BuildShaderModule(r.Context(), code)
	if err != nil {
		return nil, err
	}
	return &pipeline.ShaderStageInfo{Module: module, EntryPoint: sr.EntryPoint}, nil
}

func requestOptions(o OptionsRequest) pipeline.Options {
	return pipeline.Options{
		IncludeDisassembly: o.IncludeDisassembly,
		IncludeIR:          o.IncludeIR,
		ScalarBlockLayout:  o.ScalarBlockLayout,
		RobustBufferAccess: o.RobustBufferAccess,
	}
}

// writeError maps compiler errors onto HTTP statuses.
func (h *PipelineHandler) writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, compiler.ErrInvalidConfiguration),
		errors.Is(err, compiler.ErrInvalidShader):
		status = http.StatusBadRequest
	case errors.Is(err, compiler.ErrOutOfMemory):
		status = http.StatusInsufficientStorage
	}
	logger.Warn("pipeline_build_error", zap.Error(err), zap.Int("status", status))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeJSON is a small helper to send JSON responses consistently.
func (h *PipelineHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
