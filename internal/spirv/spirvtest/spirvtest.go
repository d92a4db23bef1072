// Package spirvtest assembles minimal SPIR-V binaries for tests.
package spirvtest

import (
	"encoding/binary"

	"shadercomp/internal/spirv"
)

// ModuleOption customizes an assembled module.
type ModuleOption func(*builder)

// WithDebugInfo adds OpSource and OpName instructions so the module carries
// trimmable debug info.
func WithDebugInfo() ModuleOption {
	return func(b *builder) { b.debugInfo = true }
}

// WithSpecConstant adds an OpSpecConstant instruction.
func WithSpecConstant() ModuleOption {
	return func(b *builder) { b.specConstant = true }
}

// WithBody appends extra opaque instruction words, to make two otherwise
// identical modules differ in content.
func WithBody(salt uint32) ModuleOption {
	return func(b *builder) { b.salt = salt }
}

type builder struct {
	debugInfo    bool
	specConstant bool
	salt         uint32
}

// Module assembles a module with one entry point of the given execution
// model and name.
func Module(model spirv.ExecutionModel, name string, opts ...ModuleOption) []byte {
	var b builder
	for _, opt := range opts {
		opt(&b)
	}

	var w moduleWriter
	w.header()
	w.instr(spirv.OpCapability, 1) // Shader
	if b.debugInfo {
		w.instr(spirv.OpSource, 2, 0) // GLSL, version 0
		w.instr(spirv.OpName, append([]uint32{4}, literal(name)...)...)
	}
	w.instr(spirv.OpEntryPoint, append([]uint32{uint32(model), 4}, literal(name)...)...)
	if b.specConstant {
		w.instr(spirv.OpSpecConstant, 2, 3, 1)
	}
	// Opaque body; opcode 1 (OpUndef's neighborhood) is never inspected by
	// the scanner.
	w.instr(spirv.OpCode(1), b.salt, 0xdeadbeef)
	return w.buf
}

type moduleWriter struct {
	buf []byte
}

func (w *moduleWriter) word(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *moduleWriter) header() {
	w.word(spirv.MagicNumber)
	w.word(0x00010500) // version 1.5
	w.word(0)          // generator
	w.word(16)         // id bound
	w.word(0)          // schema
}

func (w *moduleWriter) instr(op spirv.OpCode, operands ...uint32) {
	w.word(uint32(len(operands)+1)<<16 | uint32(op))
	for _, o := range operands {
		w.word(o)
	}
}

// literal packs a NUL-terminated string into words.
func literal(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}
