package elf

import (
	"encoding/binary"
	"fmt"
)

// ELF constants used by the reader and writer. Only the small subset the
// pipeline container needs.
const (
	elfMagic0  = 0x7f
	elfClass64 = 2 // ELFCLASS64
	elfData    = 1 // little endian

	elfTypeRel    = 1
	elfMachineGPU = 224 // EM_AMDGPU

	shtProgBits = 1
	shtSymTab   = 2
	shtStrTab   = 3
	shtNote     = 7

	ehdrSize  = 64
	shdrSize  = 64
	symSize   = 24
	shnUndef  = 0
	stbGlobal = 1
	sttFunc   = 2
)

// cursor is a bounds-checked reader over a byte buffer. Every accessor
// fails with ErrCorrupt instead of reading past the end.
type cursor struct {
	data []byte
	off  int
	err  error
}

func (c *cursor) fail(what string) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: truncated %s at offset %d", ErrCorrupt, what, c.off)
	}
}

func (c *cursor) seek(off uint64) {
	if c.err != nil {
		return
	}
	if off > uint64(len(c.data)) {
		c.fail("seek target")
		return
	}
	c.off = int(off)
}

func (c *cursor) bytes(n uint64) []byte {
	if c.err != nil {
		return nil
	}
	if n > uint64(len(c.data)-c.off) {
		c.fail("byte range")
		return nil
	}
	b := c.data[c.off : c.off+int(n)]
	c.off += int(n)
	return b
}

func (c *cursor) u16() uint16 {
	b := c.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

type rawShdr struct {
	name      uint32
	shType    uint32
	flags     uint64
	addr      uint64
	offset    uint64
	size      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
}

// Parse decodes a flat pipeline binary into an Image. Symbol names are
// resolved against the symbol string table; notes are unpacked from the
// note section.
func Parse(data []byte) (*Image, error) {
	c := &cursor{data: data}

	ident := c.bytes(16)
	if c.err != nil {
		return nil, c.err
	}
	if ident[0] != elfMagic0 || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if ident[4] != elfClass64 || ident[5] != elfData {
		return nil, fmt.Errorf("%w: unsupported ELF class", ErrCorrupt)
	}

	c.u16() // e_type
	c.u16() // e_machine
	c.u32() // e_version
	c.u64() // e_entry
	c.u64() // e_phoff
	shoff := c.u64()
	c.u32() // e_flags
	c.u16() // e_ehsize
	c.u16() // e_phentsize
	c.u16() // e_phnum
	c.u16() // e_shentsize
	shnum := c.u16()
	shstrndx := c.u16()
	if c.err != nil {
		return nil, c.err
	}

	headers := make([]rawShdr, shnum)
	c.seek(shoff)
	for i := range headers {
		headers[i] = rawShdr{
			name:      c.u32(),
			shType:    c.u32(),
			flags:     c.u64(),
			addr:      c.u64(),
			offset:    c.u64(),
			size:      c.u64(),
			link:      c.u32(),
			info:      c.u32(),
			addralign: c.u64(),
			entsize:   c.u64(),
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if int(shstrndx) >= len(headers) {
		return nil, fmt.Errorf("%w: section name table index out of range", ErrCorrupt)
	}

	sectionData := func(h rawShdr) ([]byte, error) {
		sc := &cursor{data: data}
		sc.seek(h.offset)
		b := sc.bytes(h.size)
		if sc.err != nil {
			return nil, sc.err
		}
		return b, nil
	}

	shstrtab, err := sectionData(headers[shstrndx])
	if err != nil {
		return nil, err
	}

	im := &Image{}
	// Map from file section index to Image.Sections index, for symbols.
	secMap := make(map[int]int)
	var symtabHdr *rawShdr

	for i, h := range headers {
		name, err := strTabLookup(shstrtab, h.name)
		if err != nil {
			return nil, err
		}
		switch {
		case h.shType == shtSymTab:
			hc := h
			symtabHdr = &hc
		case h.shType == shtStrTab, i == 0:
			// String tables are rebuilt on encode.
		case h.shType == shtNote:
			blob, err := sectionData(h)
			if err != nil {
				return nil, err
			}
			notes, err := parseNotes(blob)
			if err != nil {
				return nil, err
			}
			im.Notes = append(im.Notes, notes...)
		default:
			blob, err := sectionData(h)
			if err != nil {
				return nil, err
			}
			secMap[i] = len(im.Sections)
			im.Sections = append(im.Sections, Section{
				Name:  name,
				Flags: h.flags,
				Addr:  h.addr,
				Data:  blob,
			})
		}
	}

	if symtabHdr != nil {
		if int(symtabHdr.link) >= len(headers) {
			return nil, fmt.Errorf("%w: symbol string table index out of range", ErrCorrupt)
		}
		strtab, err := sectionData(headers[symtabHdr.link])
		if err != nil {
			return nil, err
		}
		symBlob, err := sectionData(*symtabHdr)
		if err != nil {
			return nil, err
		}
		syms, err := parseSymbols(symBlob, strtab, secMap)
		if err != nil {
			return nil, err
		}
		im.Symbols = syms
	}

	return im, nil
}

func parseSymbols(blob, strtab []byte, secMap map[int]int) ([]Symbol, error) {
	c := &cursor{data: blob}
	var syms []Symbol
	for i := 0; c.off < len(blob); i++ {
		nameOff := c.u32()
		c.bytes(2) // st_info, st_other
		shndx := c.u16()
		value := c.u64()
		size := c.u64()
		if c.err != nil {
			return nil, c.err
		}
		if i == 0 {
			continue // null symbol
		}
		name, err := strTabLookup(strtab, nameOff)
		if err != nil {
			return nil, err
		}
		secIdx := InvalidSectionIndex
		if shndx != shnUndef {
			mapped, ok := secMap[int(shndx)]
			if !ok {
				return nil, fmt.Errorf("%w: symbol %q references unknown section %d", ErrCorrupt, name, shndx)
			}
			secIdx = mapped
		}
		syms = append(syms, Symbol{
			Name:         name,
			SectionIndex: secIdx,
			Value:        value,
			Size:         size,
		})
	}
	return syms, nil
}

func parseNotes(blob []byte) ([]Note, error) {
	c := &cursor{data: blob}
	var notes []Note
	for c.off < len(blob) {
		nameSz := c.u32()
		descSz := c.u32()
		noteType := c.u32()
		name := c.bytes(uint64(nameSz))
		c.bytes(pad4(uint64(nameSz)) - uint64(nameSz))
		desc := c.bytes(uint64(descSz))
		c.bytes(pad4(uint64(descSz)) - uint64(descSz))
		if c.err != nil {
			return nil, c.err
		}
		notes = append(notes, Note{
			Type: noteType,
			Name: string(trimNul(name)),
			Desc: desc,
		})
	}
	return notes, nil
}

func strTabLookup(strtab []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(strtab)) {
		return "", fmt.Errorf("%w: string table offset out of range", ErrCorrupt)
	}
	end := off
	for end < uint32(len(strtab)) && strtab[end] != 0 {
		end++
	}
	if end == uint32(len(strtab)) {
		return "", fmt.Errorf("%w: unterminated string table entry", ErrCorrupt)
	}
	return string(strtab[off:end]), nil
}

func trimNul(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

func pad4(n uint64) uint64 {
	return (n + 3) &^ 3
}
