package compiler

import (
	"bytes"
	"fmt"

	"shadercomp/internal/elf"
)

// PipelineStatistics summarizes register and scratch usage of a compiled
// pipeline, extracted from its metadata note and (when present) its
// disassembly text.
type PipelineStatistics struct {
	AvailableVGPRs uint32
	UsedVGPRs      uint32
	AvailableSGPRs uint32
	UsedSGPRs      uint32

	ScratchMemorySize uint64
	UsesScratch       bool

	// HasSpill is detected from disassembly: lane-write instructions
	// ahead of the program end mark register spilling. False when the
	// binary carries no disassembly section.
	HasSpill bool
}

// GetPipelineStatistics extracts usage statistics from a compiled pipeline
// binary produced by any Build call.
func (c *Compiler) GetPipelineStatistics(binary []byte) (*PipelineStatistics, error) {
	im, err := elf.Parse(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	note := im.Note(elf.NoteTypeMetadata)
	if note == nil {
		return nil, fmt.Errorf("%w: no metadata note", ErrCorruptArtifact)
	}
	doc, err := elf.DecodeMetadata(note.Desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}

	stats := &PipelineStatistics{}
	stages, err := hardwareStages(doc)
	if err != nil {
		return nil, err
	}
	for _, v := range stages {
		st, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: malformed hardware stage entry", ErrCorruptArtifact)
		}
		stats.UsedVGPRs = max(stats.UsedVGPRs, metaUint32(st, "vgpr_count"))
		stats.UsedSGPRs = max(stats.UsedSGPRs, metaUint32(st, "sgpr_count"))
		if limit := metaUint32(st, "vgpr_limit"); limit > 0 &&
			(stats.AvailableVGPRs == 0 || limit < stats.AvailableVGPRs) {
			stats.AvailableVGPRs = limit
		}
		if limit := metaUint32(st, "sgpr_limit"); limit > 0 &&
			(stats.AvailableSGPRs == 0 || limit < stats.AvailableSGPRs) {
			stats.AvailableSGPRs = limit
		}
		stats.ScratchMemorySize += metaUint64(st, "scratch_memory_size")
	}
	stats.UsesScratch = stats.ScratchMemorySize > 0

	if disasm := im.Section(elf.SectionDisassembly); disasm != nil {
		stats.HasSpill = bytes.Contains(disasm.Data, []byte("writelane"))
	}
	return stats, nil
}

func hardwareStages(doc map[string]any) (map[string]any, error) {
	p, ok := doc["pipeline"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata has no pipeline document", ErrCorruptArtifact)
	}
	stages, ok := p["hardware_stages"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata has no hardware stages", ErrCorruptArtifact)
	}
	return stages, nil
}

func metaUint32(m map[string]any, key string) uint32 {
	return uint32(metaUint64(m, key))
}

func metaUint64(m map[string]any, key string) uint64 {
	switch v := m[key].(type) {
	case int64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case uint64:
		return v
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	}
	return 0
}
