// Package spirv scans SPIR-V shader binaries for the information the
// pipeline compiler needs before handing them to the translator: entry
// points, debug-instruction footprint, and specialization-constant usage.
// It also strips debug instructions for cache-stable module hashing.
package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SPIR-V magic number and layout constants.
const (
	MagicNumber = 0x07230203

	headerWords    = 5
	wordSize       = 4
	opCodeMask     = 0xffff
	wordCountShift = 16
)

// OpCode represents a SPIR-V opcode.
type OpCode uint16

// Opcodes the scanner cares about.
const (
	OpNop                   OpCode = 0
	OpSourceContinued       OpCode = 2
	OpSource                OpCode = 3
	OpSourceExtension       OpCode = 4
	OpName                  OpCode = 5
	OpMemberName            OpCode = 6
	OpString                OpCode = 7
	OpLine                  OpCode = 8
	OpExtension             OpCode = 10
	OpEntryPoint            OpCode = 15
	OpCapability            OpCode = 17
	OpSpecConstantTrue      OpCode = 48
	OpSpecConstantFalse     OpCode = 49
	OpSpecConstant          OpCode = 50
	OpSpecConstantComposite OpCode = 51
	OpSpecConstantOp        OpCode = 52
	OpNoLine                OpCode = 317
	OpModuleProcessed       OpCode = 330
)

// ExecutionModel identifies the shader stage an entry point targets.
type ExecutionModel uint32

const (
	ExecutionModelVertex                 ExecutionModel = 0
	ExecutionModelTessellationControl    ExecutionModel = 1
	ExecutionModelTessellationEvaluation ExecutionModel = 2
	ExecutionModelGeometry               ExecutionModel = 3
	ExecutionModelFragment               ExecutionModel = 4
	ExecutionModelGLCompute              ExecutionModel = 5
)

// ErrInvalidBinary reports a malformed SPIR-V stream.
var ErrInvalidBinary = errors.New("invalid SPIR-V binary")

// EntryPoint is one OpEntryPoint record.
type EntryPoint struct {
	Model ExecutionModel
	Name  string
}

// ModuleInfo is what one scan pass collects.
type ModuleInfo struct {
	EntryPoints     []EntryPoint
	DebugInfoSize   int  // bytes occupied by debug instructions
	UseSpecConstant bool // module contains OpSpecConstant*
	Capabilities    []uint32
}

// IsBinary reports whether data starts with the SPIR-V magic number.
func IsBinary(data []byte) bool {
	return len(data) >= headerWords*wordSize &&
		binary.LittleEndian.Uint32(data) == MagicNumber
}

// words iterates SPIR-V instructions, calling visit with the opcode and
// operand words of each. The operand slice excludes the leading
// opcode/word-count word.
func words(data []byte, visit func(op OpCode, operands []uint32) error) error {
	if !IsBinary(data) {
		return fmt.Errorf("%w: bad magic or truncated header", ErrInvalidBinary)
	}
	if len(data)%wordSize != 0 {
		return fmt.Errorf("%w: size not word-aligned", ErrInvalidBinary)
	}

	n := len(data) / wordSize
	for pos := headerWords; pos < n; {
		first := binary.LittleEndian.Uint32(data[pos*wordSize:])
		op := OpCode(first & opCodeMask)
		count := int(first >> wordCountShift)
		if count == 0 || pos+count > n {
			return fmt.Errorf("%w: bad instruction word count at word %d", ErrInvalidBinary, pos)
		}
		operands := make([]uint32, count-1)
		for i := range operands {
			operands[i] = binary.LittleEndian.Uint32(data[(pos+1+i)*wordSize:])
		}
		if err := visit(op, operands); err != nil {
			return err
		}
		pos += count
	}
	return nil
}

// Collect scans a module in a single pass.
func Collect(data []byte) (*ModuleInfo, error) {
	info := &ModuleInfo{}
	err := words(data, func(op OpCode, operands []uint32) error {
		switch op {
		case OpCapability:
			if len(operands) >= 1 {
				info.Capabilities = append(info.Capabilities, operands[0])
			}
		case OpEntryPoint:
			if len(operands) < 3 {
				return fmt.Errorf("%w: short OpEntryPoint", ErrInvalidBinary)
			}
			info.EntryPoints = append(info.EntryPoints, EntryPoint{
				Model: ExecutionModel(operands[0]),
				// Word 3 of the instruction starts the entry name literal.
				Name: decodeLiteral(operands[2:]),
			})
		case OpSpecConstantTrue, OpSpecConstantFalse, OpSpecConstant,
			OpSpecConstantComposite, OpSpecConstantOp:
			info.UseSpecConstant = true
		default:
			if isDebugOp(op) {
				info.DebugInfoSize += (len(operands) + 1) * wordSize
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// TrimDebugInfo returns a copy of the module with all debug instructions
// removed. The header is preserved verbatim.
func TrimDebugInfo(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	if !IsBinary(data) {
		return nil, fmt.Errorf("%w: bad magic or truncated header", ErrInvalidBinary)
	}
	out = append(out, data[:headerWords*wordSize]...)
	err := words(data, func(op OpCode, operands []uint32) error {
		if isDebugOp(op) {
			return nil
		}
		first := uint32(len(operands)+1)<<wordCountShift | uint32(op)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], first)
		out = append(out, buf[:]...)
		for _, w := range operands {
			binary.LittleEndian.PutUint32(buf[:], w)
			out = append(out, buf[:]...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isDebugOp(op OpCode) bool {
	switch op {
	case OpString, OpSource, OpSourceContinued, OpSourceExtension,
		OpName, OpMemberName, OpLine, OpNop, OpNoLine, OpModuleProcessed:
		return true
	}
	return false
}

// decodeLiteral reads a NUL-terminated string literal packed into words.
func decodeLiteral(operands []uint32) string {
	var raw []byte
	for _, w := range operands {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], w)
		raw = append(raw, buf[:]...)
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
