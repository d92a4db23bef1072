// Package hash provides the 128-bit content hash used to identify cached
// compilation artifacts.
//
// Keys are derived from sha256 truncated to 16 bytes. They are opaque and
// comparable; no ordering is defined.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Size is the key width in bytes.
const Size = 16

// Hash is a fixed-width content hash. The zero value means "no hash".
type Hash [Size]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the lowercase hex encoding of h.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Compact64 folds the hash down to 64 bits, for log labels and map sharding.
func (h Hash) Compact64() uint64 {
	return binary.LittleEndian.Uint64(h[:8]) ^ binary.LittleEndian.Uint64(h[8:])
}

// Of hashes a single byte slice.
func Of(data []byte) Hash {
	sum := sha256.Sum256(data)
	var h Hash
	copy(h[:], sum[:Size])
	return h
}

// Hasher accumulates data into a Hash. The zero value is not usable; call New.
type Hasher struct {
	h hash.Hash
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (hr *Hasher) Write(data []byte) {
	hr.h.Write(data)
}

func (hr *Hasher) WriteString(s string) {
	hr.h.Write([]byte(s))
}

func (hr *Hasher) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	hr.h.Write(buf[:])
}

func (hr *Hasher) WriteUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	hr.h.Write(buf[:])
}

func (hr *Hasher) WriteBool(v bool) {
	if v {
		hr.h.Write([]byte{1})
	} else {
		hr.h.Write([]byte{0})
	}
}

// WriteHash mixes another hash into the stream.
func (hr *Hasher) WriteHash(h Hash) {
	hr.h.Write(h[:])
}

// Sum finalizes the stream. The Hasher must not be used afterwards.
func (hr *Hasher) Sum() Hash {
	var h Hash
	copy(h[:], hr.h.Sum(nil)[:Size])
	return h
}
