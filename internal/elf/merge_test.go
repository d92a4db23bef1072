package elf

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func mustMetadata(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	desc, err := EncodeMetadata(doc)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	return desc
}

func nonFragmentImage(t *testing.T, placeholder bool) *Image {
	im := &Image{
		Sections: []Section{
			{Name: SectionText, Data: bytes.Repeat([]byte{0xaa}, 0x40)},
			{Name: SectionDisassembly, Data: []byte("\ts_mov_b32 s0, 1\n\ts_endpgm\n")},
		},
		Symbols: []Symbol{
			{Name: "_amdgpu_vs_main", SectionIndex: 0, Value: 0, Size: 0x40},
		},
		Notes: []Note{{
			Type: NoteTypeMetadata,
			Name: NoteNameGPU,
			Desc: mustMetadata(t, map[string]any{
				"pipeline": map[string]any{
					"hardware_stages": map[string]any{
						"vs": map[string]any{"vgpr_count": int64(12)},
					},
				},
			}),
		}},
	}
	if placeholder {
		im.Symbols = append(im.Symbols, Symbol{
			Name:         FragmentEntrySymbol,
			SectionIndex: 0,
			Value:        0x200,
		})
	}
	return im
}

func fragmentImage(t *testing.T) *Image {
	return &Image{
		Sections: []Section{
			{Name: SectionText, Data: bytes.Repeat([]byte{0xbb}, 0x30)},
			{Name: SectionDisassembly, Data: []byte("_amdgpu_ps_main:\n\ts_endpgm\n")},
		},
		Symbols: []Symbol{
			{Name: FragmentEntrySymbol, SectionIndex: 0, Value: 0, Size: 0x30},
		},
		Notes: []Note{{
			Type: NoteTypeMetadata,
			Name: NoteNameGPU,
			Desc: mustMetadata(t, map[string]any{
				"pipeline": map[string]any{
					"hardware_stages": map[string]any{
						"ps": map[string]any{"vgpr_count": int64(20)},
					},
				},
			}),
		}},
	}
}

func TestMergeSplicesAtAlignedEnd(t *testing.T) {
	merged, err := Merge(fragmentImage(t), nonFragmentImage(t, false))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	text := merged.Section(SectionText)
	if len(text.Data) != CodeAlign+0x30 {
		t.Fatalf("merged text length = %#x, want %#x", len(text.Data), CodeAlign+0x30)
	}
	// Non-fragment code is untouched, the gap is zero padding, fragment
	// code lands at the aligned offset.
	if !bytes.Equal(text.Data[:0x40], bytes.Repeat([]byte{0xaa}, 0x40)) {
		t.Error("non-fragment code corrupted")
	}
	if !bytes.Equal(text.Data[0x40:CodeAlign], make([]byte, CodeAlign-0x40)) {
		t.Error("splice gap is not zero padded")
	}
	if !bytes.Equal(text.Data[CodeAlign:], bytes.Repeat([]byte{0xbb}, 0x30)) {
		t.Error("fragment code corrupted")
	}

	ps := merged.Symbol(FragmentEntrySymbol)
	if ps == nil || ps.Value != CodeAlign || ps.Size != 0x30 {
		t.Fatalf("fragment entry symbol = %+v, want value %#x size 0x30", ps, CodeAlign)
	}
	vs := merged.Symbol("_amdgpu_vs_main")
	if vs == nil || vs.SectionIndex != merged.SectionIndex(SectionText) {
		t.Fatalf("vertex symbol lost: %+v", vs)
	}
}

func TestMergeSplicesAtPlaceholder(t *testing.T) {
	merged, err := Merge(fragmentImage(t), nonFragmentImage(t, true))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	text := merged.Section(SectionText)
	if len(text.Data) != 0x200+0x30 {
		t.Fatalf("merged text length = %#x, want %#x", len(text.Data), 0x200+0x30)
	}
	ps := merged.Symbol(FragmentEntrySymbol)
	if ps == nil || ps.Value != 0x200 {
		t.Fatalf("fragment entry symbol = %+v, want value 0x200", ps)
	}
	if err := merged.Validate(); err != nil {
		t.Fatalf("merged image invalid: %v", err)
	}
}

func TestMergeRebasesFragmentSymbols(t *testing.T) {
	frag := fragmentImage(t)
	// Entry does not start at offset 0, and a helper routine follows it.
	frag.Symbols[0].Value = 0x10
	frag.Symbols = append(frag.Symbols, Symbol{
		Name: "_amdgpu_ps_helper", SectionIndex: 0, Value: 0x20, Size: 0x10,
	})

	merged, err := Merge(frag, nonFragmentImage(t, false))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	ps := merged.Symbol(FragmentEntrySymbol)
	if ps.Value != CodeAlign {
		t.Errorf("entry value = %#x, want %#x", ps.Value, CodeAlign)
	}
	helper := merged.Symbol("_amdgpu_ps_helper")
	if helper == nil || helper.Value != CodeAlign+0x10 {
		t.Errorf("helper = %+v, want value %#x", helper, CodeAlign+0x10)
	}
}

func TestMergeReinsertsFirstLabel(t *testing.T) {
	// The code generator drops the leading label from disassembly; the
	// merge must put it back so the first block stays attributable.
	merged, err := Merge(fragmentImage(t), nonFragmentImage(t, false))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	disasm := string(merged.Section(SectionDisassembly).Data)
	if !strings.HasPrefix(disasm, "_amdgpu_vs_main:\n") {
		t.Errorf("first label not reinserted:\n%s", disasm)
	}
	if !strings.Contains(disasm, "_amdgpu_ps_main:\n") {
		t.Errorf("fragment block missing:\n%s", disasm)
	}
}

func TestMergeCombinesMetadata(t *testing.T) {
	merged, err := Merge(fragmentImage(t), nonFragmentImage(t, false))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	doc, err := DecodeMetadata(merged.Note(NoteTypeMetadata).Desc)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	stages := doc["pipeline"].(map[string]any)["hardware_stages"].(map[string]any)
	if _, ok := stages["vs"]; !ok {
		t.Error("merged metadata lost the vs stage")
	}
	if _, ok := stages["ps"]; !ok {
		t.Error("merged metadata lost the ps stage")
	}
}

func TestMergeOptionalSectionOnOneSide(t *testing.T) {
	frag := fragmentImage(t)
	base := nonFragmentImage(t, false)
	base.Sections = base.Sections[:1] // no disassembly on the base side

	merged, err := Merge(frag, base)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	disasm := merged.Section(SectionDisassembly)
	if disasm == nil || !bytes.Equal(disasm.Data, frag.Section(SectionDisassembly).Data) {
		t.Error("fragment-only disassembly not carried over")
	}

	// And the mirror case: neither side has the section.
	frag2 := fragmentImage(t)
	frag2.Sections = frag2.Sections[:1]
	base2 := nonFragmentImage(t, false)
	base2.Sections = base2.Sections[:1]
	merged2, err := Merge(frag2, base2)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged2.Section(SectionDisassembly) != nil {
		t.Error("disassembly section invented from nothing")
	}
}

func TestMergeRejectsMissingEntrySymbol(t *testing.T) {
	frag := fragmentImage(t)
	frag.Symbols = nil
	if _, err := Merge(frag, nonFragmentImage(t, false)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestMergeRejectsMissingTextSection(t *testing.T) {
	base := nonFragmentImage(t, false)
	base.Sections = []Section{{Name: SectionDisassembly}}
	base.Symbols = nil
	if _, err := Merge(fragmentImage(t), base); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestMergeLeavesInputsUntouched(t *testing.T) {
	frag := fragmentImage(t)
	base := nonFragmentImage(t, false)
	fragText := append([]byte(nil), frag.Sections[0].Data...)
	baseText := append([]byte(nil), base.Sections[0].Data...)

	if _, err := Merge(frag, base); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !bytes.Equal(frag.Sections[0].Data, fragText) {
		t.Error("fragment input mutated")
	}
	if !bytes.Equal(base.Sections[0].Data, baseText) {
		t.Error("non-fragment input mutated")
	}
}
