package elf

import (
	"bytes"
	"encoding/binary"
)

// strTab builds an ELF string table incrementally, deduplicating names.
type strTab struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStrTab() *strTab {
	t := &strTab{offsets: make(map[string]uint32)}
	t.buf.WriteByte(0) // index 0 is the empty string
	return t
}

func (t *strTab) add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	t.offsets[s] = off
	return off
}

// Encode serializes the image into a flat ELF64 buffer. Section layout:
// null header, the image's sections in order, then .note, .symtab, .strtab
// and .shstrtab.
func (im *Image) Encode() ([]byte, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}

	shstr := newStrTab()
	symstr := newStrTab()

	type outSection struct {
		nameOff   uint32
		shType    uint32
		flags     uint64
		addr      uint64
		data      []byte
		link      uint32
		info      uint32
		addralign uint64
		entsize   uint64
	}

	var out []outSection
	out = append(out, outSection{}) // null section

	for i := range im.Sections {
		s := &im.Sections[i]
		out = append(out, outSection{
			nameOff:   shstr.add(s.Name),
			shType:    shtProgBits,
			flags:     s.Flags,
			addr:      s.Addr,
			data:      s.Data,
			addralign: 16,
		})
	}

	if len(im.Notes) > 0 {
		out = append(out, outSection{
			nameOff:   shstr.add(SectionNote),
			shType:    shtNote,
			data:      encodeNotes(im.Notes),
			addralign: 4,
		})
	}

	// Symbol table: null entry plus every image symbol. Image section index
	// i maps to output header index i+1; cleared references become undef.
	symData := make([]byte, symSize*(len(im.Symbols)+1))
	for i := range im.Symbols {
		sym := &im.Symbols[i]
		entry := symData[symSize*(i+1):]
		binary.LittleEndian.PutUint32(entry[0:], symstr.add(sym.Name))
		entry[4] = stbGlobal<<4 | sttFunc
		shndx := uint16(shnUndef)
		if sym.SectionIndex != InvalidSectionIndex {
			shndx = uint16(sym.SectionIndex + 1)
		}
		binary.LittleEndian.PutUint16(entry[6:], shndx)
		binary.LittleEndian.PutUint64(entry[8:], sym.Value)
		binary.LittleEndian.PutUint64(entry[16:], sym.Size)
	}

	strtabIdx := uint32(len(out) + 1)
	out = append(out, outSection{
		nameOff:   shstr.add(".symtab"),
		shType:    shtSymTab,
		data:      symData,
		link:      strtabIdx,
		info:      1, // first global symbol index
		addralign: 8,
		entsize:   symSize,
	})
	out = append(out, outSection{
		nameOff:   shstr.add(".strtab"),
		shType:    shtStrTab,
		data:      symstr.buf.Bytes(),
		addralign: 1,
	})
	shstrndx := len(out)
	out = append(out, outSection{
		nameOff:   shstr.add(".shstrtab"),
		shType:    shtStrTab,
		data:      shstr.buf.Bytes(),
		addralign: 1,
	})

	// Lay out section data after the ELF header, then the header table.
	offsets := make([]uint64, len(out))
	pos := uint64(ehdrSize)
	for i := 1; i < len(out); i++ {
		pos = (pos + 15) &^ 15
		offsets[i] = pos
		pos += uint64(len(out[i].data))
	}
	shoff := (pos + 7) &^ 7

	buf := make([]byte, shoff+uint64(shdrSize*len(out)))

	// ELF header.
	copy(buf, []byte{elfMagic0, 'E', 'L', 'F', elfClass64, elfData, 1})
	binary.LittleEndian.PutUint16(buf[16:], elfTypeRel)
	binary.LittleEndian.PutUint16(buf[18:], elfMachineGPU)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint64(buf[40:], shoff)
	binary.LittleEndian.PutUint16(buf[52:], ehdrSize)
	binary.LittleEndian.PutUint16(buf[58:], shdrSize)
	binary.LittleEndian.PutUint16(buf[60:], uint16(len(out)))
	binary.LittleEndian.PutUint16(buf[62:], uint16(shstrndx))

	for i := 1; i < len(out); i++ {
		copy(buf[offsets[i]:], out[i].data)
	}

	for i := range out {
		h := buf[shoff+uint64(shdrSize*i):]
		binary.LittleEndian.PutUint32(h[0:], out[i].nameOff)
		binary.LittleEndian.PutUint32(h[4:], out[i].shType)
		binary.LittleEndian.PutUint64(h[8:], out[i].flags)
		binary.LittleEndian.PutUint64(h[16:], out[i].addr)
		binary.LittleEndian.PutUint64(h[24:], offsets[i])
		binary.LittleEndian.PutUint64(h[32:], uint64(len(out[i].data)))
		binary.LittleEndian.PutUint32(h[40:], out[i].link)
		binary.LittleEndian.PutUint32(h[44:], out[i].info)
		binary.LittleEndian.PutUint64(h[48:], out[i].addralign)
		binary.LittleEndian.PutUint64(h[56:], out[i].entsize)
	}

	return buf, nil
}

func encodeNotes(notes []Note) []byte {
	var buf bytes.Buffer
	var scratch [4]byte
	for _, n := range notes {
		nameSz := uint32(len(n.Name) + 1)
		binary.LittleEndian.PutUint32(scratch[:], nameSz)
		buf.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(n.Desc)))
		buf.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], n.Type)
		buf.Write(scratch[:])
		buf.WriteString(n.Name)
		for i := uint64(len(n.Name)); i < pad4(uint64(nameSz)); i++ {
			buf.WriteByte(0)
		}
		buf.Write(n.Desc)
		for i := uint64(len(n.Desc)); i < pad4(uint64(len(n.Desc))); i++ {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}
