package elf

import (
	"bytes"
	"fmt"
	"strings"
)

// CodeAlign is the alignment of a stage's machine code within .text.
const CodeAlign = 0x100

// AlignCode rounds n up to the next stage code boundary.
func AlignCode(n uint64) uint64 {
	return (n + CodeAlign - 1) &^ (CodeAlign - 1)
}

// Merge combines a fragment-only image and a non-fragment image into one
// pipeline image.
//
// Machine code is spliced into the non-fragment .text at the fragment entry
// placeholder if the non-fragment compile emitted one, otherwise at the
// 256-aligned end of the existing code. Non-fragment symbols at or after the
// placeholder are invalidated, and every fragment symbol is rebased against
// the splice offset. Disassembly and IR-comment sections are spliced on the
// fragment entry marker text; metadata notes are merged document-wise.
//
// A fragment image without the fragment entry symbol is corrupt: failing
// loudly here beats emitting a binary with dangling references.
func Merge(fragment, nonFragment *Image) (*Image, error) {
	merged := nonFragment.clone()

	textIdx := merged.SectionIndex(SectionText)
	fragTextIdx := fragment.SectionIndex(SectionText)
	if textIdx < 0 || fragTextIdx < 0 {
		return nil, fmt.Errorf("%w: missing %s section", ErrCorrupt, SectionText)
	}

	fragEntry := fragment.Symbol(FragmentEntrySymbol)
	if fragEntry == nil || fragEntry.SectionIndex != fragTextIdx {
		return nil, fmt.Errorf("%w: fragment image has no %s symbol", ErrCorrupt, FragmentEntrySymbol)
	}

	// The first stage's entry name is dropped from disassembly text by the
	// code generator; remember it so the text merge can add it back.
	var firstEntryName string
	for i := range merged.Symbols {
		if merged.Symbols[i].SectionIndex == textIdx &&
			strings.HasPrefix(merged.Symbols[i].Name, entrySymbolPrefix) {
			firstEntryName = merged.Symbols[i].Name
			break
		}
	}

	// Locate the fragment placeholder in the non-fragment image. Fragment
	// code displaces the layout it assumed, so the placeholder and every
	// symbol after it in table order no longer resolve.
	var placeholder *Symbol
	for i := range merged.Symbols {
		if placeholder == nil {
			if merged.Symbols[i].Name == FragmentEntrySymbol {
				s := merged.Symbols[i]
				placeholder = &s
			} else {
				continue
			}
		}
		merged.Symbols[i].SectionIndex = InvalidSectionIndex
	}

	text := &merged.Sections[textIdx]
	insertOffset := AlignCode(uint64(len(text.Data)))
	if placeholder != nil {
		insertOffset = placeholder.Value
	}

	fragText := fragment.Sections[fragTextIdx].Data
	if fragEntry.Value > uint64(len(fragText)) {
		return nil, fmt.Errorf("%w: fragment entry offset beyond section end", ErrCorrupt)
	}
	fragCode := fragText[fragEntry.Value:]

	combined := make([]byte, insertOffset+uint64(len(fragCode)))
	copy(combined, text.Data)
	copy(combined[insertOffset:], fragCode)
	text.Data = combined

	// Re-emit fragment symbols against the merged code section.
	for _, sym := range fragment.SectionSymbols(fragTextIdx) {
		out := merged.upsertSymbol(sym.Name)
		out.SectionIndex = textIdx
		out.Value = insertOffset + sym.Value - fragEntry.Value
		out.Size = sym.Size
	}

	for _, name := range []string{SectionDisassembly, SectionLLVMIR} {
		if err := mergeTextSection(merged, fragment, name, firstEntryName); err != nil {
			return nil, err
		}
	}

	if err := mergeMetadataNotes(merged, fragment); err != nil {
		return nil, err
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeTextSection splices a human-readable section (disassembly or IR
// comments). The fragment entry marker string bounds the splice: text at
// and after the marker in the base is replaced by the fragment's text from
// its own marker onward. A missing marker falls back to a full-section
// copy; a section present on only one side is carried over unchanged.
func mergeTextSection(merged, fragment *Image, name, firstEntryName string) error {
	base := merged.Section(name)
	frag := fragment.Section(name)

	switch {
	case base == nil && frag == nil:
		return nil
	case base == nil:
		merged.Sections = append(merged.Sections, Section{
			Name:  name,
			Flags: frag.Flags,
			Data:  append([]byte(nil), frag.Data...),
		})
		return nil
	case frag == nil:
		return nil
	}

	marker := []byte(FragmentEntrySymbol)

	cut := bytes.Index(base.Data, marker)
	if cut < 0 {
		cut = len(base.Data)
	}
	start := bytes.Index(frag.Data, marker)
	if start < 0 {
		start = 0
	}

	var out bytes.Buffer
	if firstEntryName != "" && !bytes.HasPrefix(base.Data, []byte(firstEntryName)) {
		out.WriteString(firstEntryName)
		out.WriteString(":\n")
	}
	out.Write(base.Data[:cut])
	out.Write(frag.Data[start:])
	base.Data = out.Bytes()
	return nil
}

func (im *Image) clone() *Image {
	out := &Image{
		Sections: make([]Section, len(im.Sections)),
		Symbols:  append([]Symbol(nil), im.Symbols...),
		Notes:    make([]Note, len(im.Notes)),
	}
	for i, s := range im.Sections {
		s.Data = append([]byte(nil), s.Data...)
		out.Sections[i] = s
	}
	for i, n := range im.Notes {
		n.Desc = append([]byte(nil), n.Desc...)
		out.Notes[i] = n
	}
	return out
}

// upsertSymbol returns the named symbol, creating it if absent.
func (im *Image) upsertSymbol(name string) *Symbol {
	if s := im.Symbol(name); s != nil {
		return s
	}
	im.Symbols = append(im.Symbols, Symbol{Name: name, SectionIndex: InvalidSectionIndex})
	return &im.Symbols[len(im.Symbols)-1]
}
