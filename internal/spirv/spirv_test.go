package spirv_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"shadercomp/internal/spirv"
	"shadercomp/internal/spirv/spirvtest"
)

func TestIsBinary(t *testing.T) {
	if !spirv.IsBinary(spirvtest.Module(spirv.ExecutionModelVertex, "main")) {
		t.Error("valid module not recognized")
	}
	if spirv.IsBinary(nil) {
		t.Error("nil recognized as binary")
	}
	if spirv.IsBinary([]byte("#version 450\nvoid main() {}\n")) {
		t.Error("GLSL text recognized as binary")
	}
	short := make([]byte, 8)
	binary.LittleEndian.PutUint32(short, spirv.MagicNumber)
	if spirv.IsBinary(short) {
		t.Error("truncated header recognized as binary")
	}
}

func TestCollectEntryPoints(t *testing.T) {
	info, err := spirv.Collect(spirvtest.Module(spirv.ExecutionModelFragment, "psMain"))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(info.EntryPoints) != 1 {
		t.Fatalf("entry points = %d, want 1", len(info.EntryPoints))
	}
	ep := info.EntryPoints[0]
	if ep.Model != spirv.ExecutionModelFragment || ep.Name != "psMain" {
		t.Errorf("entry point = %+v", ep)
	}
	if info.UseSpecConstant {
		t.Error("spec constant flagged on module without one")
	}
}

func TestCollectDebugAndSpecConstants(t *testing.T) {
	plain := spirvtest.Module(spirv.ExecutionModelVertex, "main")
	debug := spirvtest.Module(spirv.ExecutionModelVertex, "main", spirvtest.WithDebugInfo())
	spec := spirvtest.Module(spirv.ExecutionModelVertex, "main", spirvtest.WithSpecConstant())

	pi, err := spirv.Collect(plain)
	if err != nil {
		t.Fatalf("Collect plain: %v", err)
	}
	di, err := spirv.Collect(debug)
	if err != nil {
		t.Fatalf("Collect debug: %v", err)
	}
	si, err := spirv.Collect(spec)
	if err != nil {
		t.Fatalf("Collect spec: %v", err)
	}

	if pi.DebugInfoSize != 0 {
		t.Errorf("plain DebugInfoSize = %d, want 0", pi.DebugInfoSize)
	}
	if di.DebugInfoSize == 0 {
		t.Error("debug module scanned as debug-free")
	}
	if !si.UseSpecConstant {
		t.Error("OpSpecConstant not detected")
	}
}

func TestTrimDebugInfo(t *testing.T) {
	plain := spirvtest.Module(spirv.ExecutionModelVertex, "main")
	debug := spirvtest.Module(spirv.ExecutionModelVertex, "main", spirvtest.WithDebugInfo())

	trimmed, err := spirv.TrimDebugInfo(debug)
	if err != nil {
		t.Fatalf("TrimDebugInfo: %v", err)
	}
	if !bytes.Equal(trimmed, plain) {
		t.Error("trimmed module differs from its debug-free twin")
	}

	info, err := spirv.Collect(trimmed)
	if err != nil {
		t.Fatalf("Collect trimmed: %v", err)
	}
	if info.DebugInfoSize != 0 {
		t.Errorf("trimmed DebugInfoSize = %d, want 0", info.DebugInfoSize)
	}
	if len(info.EntryPoints) != 1 || info.EntryPoints[0].Name != "main" {
		t.Error("entry point lost during trim")
	}

	again, err := spirv.TrimDebugInfo(trimmed)
	if err != nil {
		t.Fatalf("TrimDebugInfo twice: %v", err)
	}
	if !bytes.Equal(again, trimmed) {
		t.Error("trim is not idempotent")
	}
}

func TestCollectRejectsMalformed(t *testing.T) {
	mod := spirvtest.Module(spirv.ExecutionModelVertex, "main")

	// Zero word count on the first instruction.
	zeroCount := append([]byte(nil), mod...)
	binary.LittleEndian.PutUint32(zeroCount[20:], uint32(spirv.OpCapability))
	if _, err := spirv.Collect(zeroCount); !errors.Is(err, spirv.ErrInvalidBinary) {
		t.Errorf("zero word count: err = %v", err)
	}

	// Word count running past the end of the buffer.
	overrun := append([]byte(nil), mod...)
	binary.LittleEndian.PutUint32(overrun[20:], 0x7fff<<16|uint32(spirv.OpCapability))
	if _, err := spirv.Collect(overrun); !errors.Is(err, spirv.ErrInvalidBinary) {
		t.Errorf("overrun word count: err = %v", err)
	}

	// Trailing partial word.
	ragged := append(append([]byte(nil), mod...), 0x01)
	if _, err := spirv.Collect(ragged); !errors.Is(err, spirv.ErrInvalidBinary) {
		t.Errorf("unaligned size: err = %v", err)
	}

	if _, err := spirv.Collect([]byte("not spirv")); !errors.Is(err, spirv.ErrInvalidBinary) {
		t.Errorf("garbage: err = %v", err)
	}
	if _, err := spirv.TrimDebugInfo([]byte("not spirv")); !errors.Is(err, spirv.ErrInvalidBinary) {
		t.Errorf("TrimDebugInfo garbage: err = %v", err)
	}
}

func TestWithBodyChangesContent(t *testing.T) {
	a := spirvtest.Module(spirv.ExecutionModelVertex, "main", spirvtest.WithBody(1))
	b := spirvtest.Module(spirv.ExecutionModelVertex, "main", spirvtest.WithBody(2))
	if bytes.Equal(a, b) {
		t.Error("salted modules are identical")
	}
}
