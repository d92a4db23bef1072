package elf

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Metadata notes carry a structured document (nested string-keyed maps)
// describing the pipeline: register counts, resource usage and hardware
// stage layout. Fragment and non-fragment compiles each emit a document
// covering their own stages; merging combines them into one.

// EncodeMetadata serializes a metadata document with sorted map keys, so
// identical documents produce identical bytes regardless of construction
// order. Cache keys and merge round-trips rely on this.
func EncodeMetadata(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMetadata parses a metadata note payload. Integers decode to int64
// and floats to float64 so a decode, merge and re-encode of the same
// document reproduces the original bytes.
func DecodeMetadata(desc []byte) (map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(desc))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeMap()
	})
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: bad metadata note: %v", ErrCorrupt, err)
	}
	return doc, nil
}

// mergeMetadataNotes combines the two images' metadata documents. The
// non-fragment document is the base; fragment entries are folded in,
// map-valued keys merging recursively, scalar conflicts resolved in the
// fragment's favor (it describes the stage actually being added).
func mergeMetadataNotes(merged, fragment *Image) error {
	base := merged.Note(NoteTypeMetadata)
	if base == nil {
		return fmt.Errorf("%w: non-fragment image has no metadata note", ErrCorrupt)
	}
	fragNote := fragment.Note(NoteTypeMetadata)
	if fragNote == nil {
		return nil
	}

	baseDoc, err := DecodeMetadata(base.Desc)
	if err != nil {
		return err
	}
	fragDoc, err := DecodeMetadata(fragNote.Desc)
	if err != nil {
		return err
	}

	desc, err := EncodeMetadata(mergeDoc(baseDoc, fragDoc))
	if err != nil {
		return err
	}
	base.Desc = desc
	return nil
}

func mergeDoc(base, overlay map[string]any) map[string]any {
	for k, v := range overlay {
		if bm, ok := base[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				base[k] = mergeDoc(bm, om)
				continue
			}
		}
		base[k] = v
	}
	return base
}
