package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shadercomp/internal/compiler"
	"shadercomp/internal/engine"
	"shadercomp/internal/spirv"
	"shadercomp/internal/spirv/spirvtest"
)

func newTestHandler(t *testing.T) *PipelineHandler {
	t.Helper()
	r, err := compiler.NewRuntime(compiler.RuntimeConfig{Backend: engine.NewPackager(nil)})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	c, err := r.CreateCompiler(engine.TargetVersion{Major: 10, Minor: 3}, nil)
	if err != nil {
		t.Fatalf("CreateCompiler: %v", err)
	}
	t.Cleanup(func() {
		c.Destroy()
		r.Close()
	})
	return NewPipelineHandler(c)
}

func stageJSON(model spirv.ExecutionModel) StageRequest {
	return StageRequest{
		Code:       base64.StdEncoding.EncodeToString(spirvtest.Module(model, "main")),
		EntryPoint: "main",
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/pipelines/graphics", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestBuildGraphics(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.BuildGraphics, GraphicsRequest{
		Stages: map[string]StageRequest{
			"vertex":   stageJSON(spirv.ExecutionModelVertex),
			"fragment": stageJSON(spirv.ExecutionModelFragment),
		},
		DebugName: "triangle",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp BuildResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	binary, err := base64.StdEncoding.DecodeString(resp.Binary)
	if err != nil {
		t.Fatalf("decode binary: %v", err)
	}
	if len(binary) == 0 || len(binary) != resp.Size {
		t.Errorf("binary length %d, reported size %d", len(binary), resp.Size)
	}
}

func TestBuildGraphicsRejectsBadInput(t *testing.T) {
	h := newTestHandler(t)

	// Not JSON at all.
	req := httptest.NewRequest(http.MethodPost, "/v1/pipelines/graphics", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	h.BuildGraphics(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d", rec.Code)
	}

	// Unknown stage name.
	rec = postJSON(t, h.BuildGraphics, GraphicsRequest{
		Stages: map[string]StageRequest{"raygen": stageJSON(spirv.ExecutionModelVertex)},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown stage: status = %d", rec.Code)
	}

	// Valid base64 that is not SPIR-V.
	rec = postJSON(t, h.BuildGraphics, GraphicsRequest{
		Stages: map[string]StageRequest{
			"vertex": {
				Code:       base64.StdEncoding.EncodeToString([]byte("void main() {}")),
				EntryPoint: "main",
			},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-SPIR-V shader: status = %d", rec.Code)
	}

	// No stages at all.
	rec = postJSON(t, h.BuildGraphics, GraphicsRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty pipeline: status = %d", rec.Code)
	}
}

func TestBuildCompute(t *testing.T) {
	h := newTestHandler(t)

	rec := postJSON(t, h.BuildCompute, ComputeRequest{
		Compute: stageJSON(spirv.ExecutionModelGLCompute),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp BuildResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Size == 0 {
		t.Error("empty compute binary")
	}
}

func TestStatistics(t *testing.T) {
	h := newTestHandler(t)

	build := postJSON(t, h.BuildGraphics, GraphicsRequest{
		Stages: map[string]StageRequest{
			"vertex":   stageJSON(spirv.ExecutionModelVertex),
			"fragment": stageJSON(spirv.ExecutionModelFragment),
		},
		Options: OptionsRequest{IncludeDisassembly: true},
	})
	if build.Code != http.StatusOK {
		t.Fatalf("build status = %d", build.Code)
	}
	var built BuildResponse
	if err := json.Unmarshal(build.Body.Bytes(), &built); err != nil {
		t.Fatalf("decode build response: %v", err)
	}

	rec := postJSON(t, h.Statistics, StatisticsRequest{Binary: built.Binary})
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stats compiler.PipelineStatistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode statistics: %v", err)
	}
	if stats.AvailableVGPRs == 0 || stats.UsedVGPRs == 0 {
		t.Errorf("statistics look empty: %+v", stats)
	}

	// A statistics request over junk bytes gets an error response, not a
	// panic.
	rec = postJSON(t, h.Statistics, StatisticsRequest{
		Binary: base64.StdEncoding.EncodeToString([]byte("junk")),
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("junk binary: status = %d", rec.Code)
	}
}
