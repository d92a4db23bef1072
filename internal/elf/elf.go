// Package elf holds the structured view of a compiled pipeline binary:
// named sections, a symbol table and metadata notes. It can parse a flat
// buffer into that view, serialize the view back out, and merge two
// independently compiled partial pipelines into one image.
//
// All buffer scanning is done through a bounds-checked cursor; a malformed
// input produces an error, never an out-of-range read.
package elf

import "errors"

// Well-known section names emitted by the code generator.
const (
	SectionText        = ".text"
	SectionNote        = ".note"
	SectionDisassembly = ".AMDGPU.disasm"
	SectionLLVMIR      = ".AMDGPU.comment.llvmir"
)

// Entry symbols follow the pipeline ABI: one per hardware stage, named by
// the stage abbreviation.
const (
	entrySymbolPrefix = "_amdgpu_"

	// FragmentEntrySymbol marks where fragment code begins. The merge engine
	// splices fragment sections at this symbol.
	FragmentEntrySymbol = "_amdgpu_ps_main"
)

// EntrySymbol returns the ABI entry symbol name for a stage abbreviation
// such as "vs", "ps" or "cs".
func EntrySymbol(stageAbbrev string) string {
	return entrySymbolPrefix + stageAbbrev + "_main"
}

// Note types carried in the .note section.
const (
	// NoteTypeMetadata is the pipeline metadata document (msgpack map).
	NoteTypeMetadata uint32 = 32
)

// NoteNameGPU is the vendor name field of pipeline notes.
const NoteNameGPU = "AMDGPU"

// ErrCorrupt reports a structural mismatch in an input image: a truncated
// buffer, a dangling symbol reference, or a missing required section.
var ErrCorrupt = errors.New("corrupt pipeline binary")

// InvalidSectionIndex marks a symbol whose section reference was cleared.
const InvalidSectionIndex = -1

// Section is a named byte range with its load-time metadata.
type Section struct {
	Name  string
	Flags uint64
	Addr  uint64
	Data  []byte
}

// Symbol is one symbol table entry. SectionIndex refers to Image.Sections,
// or InvalidSectionIndex if the symbol no longer resolves.
type Symbol struct {
	Name         string
	SectionIndex int
	Value        uint64
	Size         uint64
}

// Note is one typed metadata blob from the .note section.
type Note struct {
	Type uint32
	Name string
	Desc []byte
}

// Image is the in-memory form of a pipeline binary.
type Image struct {
	Sections []Section
	Symbols  []Symbol
	Notes    []Note
}

// Section returns the named section, or nil.
func (im *Image) Section(name string) *Section {
	for i := range im.Sections {
		if im.Sections[i].Name == name {
			return &im.Sections[i]
		}
	}
	return nil
}

// SectionIndex returns the index of the named section, or -1.
func (im *Image) SectionIndex(name string) int {
	for i := range im.Sections {
		if im.Sections[i].Name == name {
			return i
		}
	}
	return -1
}

// Symbol returns the named symbol, or nil.
func (im *Image) Symbol(name string) *Symbol {
	for i := range im.Symbols {
		if im.Symbols[i].Name == name {
			return &im.Symbols[i]
		}
	}
	return nil
}

// Note returns the first note of the given type, or nil.
func (im *Image) Note(noteType uint32) *Note {
	for i := range im.Notes {
		if im.Notes[i].Type == noteType {
			return &im.Notes[i]
		}
	}
	return nil
}

// SectionSymbols returns the symbols bound to the given section index, in
// symbol table order.
func (im *Image) SectionSymbols(secIdx int) []*Symbol {
	var out []*Symbol
	for i := range im.Symbols {
		if im.Symbols[i].SectionIndex == secIdx {
			out = append(out, &im.Symbols[i])
		}
	}
	return out
}

// Validate checks that every live symbol references a section present in
// the image.
func (im *Image) Validate() error {
	for i := range im.Symbols {
		idx := im.Symbols[i].SectionIndex
		if idx == InvalidSectionIndex {
			continue
		}
		if idx < 0 || idx >= len(im.Sections) {
			return ErrCorrupt
		}
	}
	return nil
}
