package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"shadercomp/pkg/hash"
)

// EntryState is the lifecycle of one cache entry.
type EntryState uint32

const (
	// StateNew means the key has never been seen (or its claim was reset).
	StateNew EntryState = iota
	// StateCompiling means exactly one caller holds the right to populate
	// the entry.
	StateCompiling
	// StateReady means a result is stored and retrievable.
	StateReady
)

func (s EntryState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateCompiling:
		return "compiling"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// Mode selects how the store persists results.
type Mode int

const (
	// ModeDisabled runs the claim protocol (so concurrent compiles of one
	// key still deduplicate) but drops results after insert.
	ModeDisabled Mode = iota
	// ModeRuntime caches for the process lifetime only.
	ModeRuntime
	// ModePersistent caches through the configured blob-store backend
	// (disk or Redis).
	ModePersistent
)

// ErrUnknown reports that a nominally Ready entry could not be read back
// from the backing store. It is a soft miss: the store has already demoted
// the entry and granted the claim to the caller, which should recompile.
var ErrUnknown = errors.New("cache entry unavailable")

// ErrNotClaimed reports an Insert or Reset through a handle that does not
// hold the entry's compile claim.
var ErrNotClaimed = errors.New("handle does not hold the compile claim")

type entry struct {
	state EntryState
	data  []byte // loaded blob; may be nil for persistent entries
}

// Store maps cache keys to entry states and blobs. All state transitions
// happen under one coarse lock; claim creation is therefore atomic per key.
type Store struct {
	mu      sync.Mutex
	entries map[hash.Hash]*entry
	blobs   BlobStore
	mode    Mode
	logger  *zap.Logger
}

// NewStore builds a store. blobs may be nil for ModeDisabled/ModeRuntime.
func NewStore(mode Mode, blobs BlobStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode != ModePersistent {
		blobs = nil
	}
	return &Store{
		entries: make(map[hash.Hash]*entry),
		blobs:   blobs,
		mode:    mode,
		logger:  logger,
	}
}

// Handle is the capability to act on one entry. Only a handle whose claim
// was granted by Lookup (or by a soft-miss demotion in Retrieve) may
// Insert or Reset.
type Handle struct {
	store   *Store
	key     hash.Hash
	claimed bool
}

// Claimed reports whether this handle holds the exclusive compile claim.
func (h *Handle) Claimed() bool {
	return h != nil && h.claimed
}

// Key returns the entry's cache key.
func (h *Handle) Key() hash.Hash {
	return h.key
}

func blobKey(key hash.Hash) string {
	return keyPrefix + ":" + key.Hex()
}

// Lookup returns the entry state for key and, when applicable, a handle.
//
//   - Ready: handle allows Retrieve.
//   - Absent + claimIfMiss: the entry is created in Compiling state and the
//     returned handle holds the exclusive claim; the caller must compile and
//     then Insert or Reset.
//   - Compiling (claimed elsewhere): state only, nil handle. Callers do not
//     block; duplicate compute is tolerated by policy.
//
// An absent key is probed against the backing store first, so results
// persisted by another process are visible as Ready immediately.
func (s *Store) Lookup(ctx context.Context, key hash.Hash, claimIfMiss bool) (EntryState, *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil && s.blobs != nil {
		// Track state only; the blob stays in the backend so an eviction
		// there surfaces as a soft miss on Retrieve.
		if _, ok, err := s.blobs.Get(ctx, blobKey(key)); err == nil && ok {
			e = &entry{state: StateReady}
			s.entries[key] = e
		} else if err != nil {
			s.logger.Warn("cache backend probe failed",
				zap.String("key", key.Hex()), zap.Error(err))
		}
	}

	switch {
	case e == nil || e.state == StateNew:
		if !claimIfMiss {
			return StateNew, nil
		}
		s.entries[key] = &entry{state: StateCompiling}
		return StateCompiling, &Handle{store: s, key: key, claimed: true}
	case e.state == StateCompiling:
		return StateCompiling, nil
	default:
		return StateReady, &Handle{store: s, key: key}
	}
}

// Retrieve returns the blob of a Ready entry.
//
// If the backing store lost the blob, the entry is demoted: it moves back
// to Compiling with the claim granted to this handle, and Retrieve returns
// ErrUnknown. The caller recompiles and Inserts as if it had claimed a
// fresh miss.
func (s *Store) Retrieve(ctx context.Context, h *Handle) ([]byte, error) {
	if h == nil || h.store != s {
		return nil, fmt.Errorf("retrieve: %w", ErrUnknown)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[h.key]
	if e == nil || e.state != StateReady {
		return nil, fmt.Errorf("retrieve %s: %w", h.key.Hex(), ErrUnknown)
	}
	if e.data != nil {
		return append([]byte(nil), e.data...), nil
	}
	if s.blobs == nil {
		e.state = StateCompiling
		h.claimed = true
		return nil, fmt.Errorf("retrieve %s: %w", h.key.Hex(), ErrUnknown)
	}

	blob, ok, err := s.blobs.Get(ctx, blobKey(h.key))
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("cache retrieve failed, demoting entry",
				zap.String("key", h.key.Hex()), zap.Error(err))
		}
		e.state = StateCompiling
		e.data = nil
		h.claimed = true
		return nil, fmt.Errorf("retrieve %s: %w", h.key.Hex(), ErrUnknown)
	}
	return append([]byte(nil), blob...), nil
}

// Insert transitions a claimed Compiling entry to Ready and stores the
// artifact. A backend write failure is logged, not surfaced: the entry
// stays servable from memory for this process.
func (s *Store) Insert(ctx context.Context, h *Handle, blob []byte) error {
	if !h.Claimed() || h.store != s {
		return ErrNotClaimed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[h.key]
	if e == nil || e.state != StateCompiling {
		return ErrNotClaimed
	}

	if s.mode == ModeDisabled {
		delete(s.entries, h.key)
		h.claimed = false
		return nil
	}

	e.state = StateReady
	e.data = append([]byte(nil), blob...)
	h.claimed = false

	if s.blobs != nil {
		if err := s.blobs.Set(ctx, blobKey(h.key), blob); err != nil {
			// Keep the in-memory copy as a fallback for this process.
			s.logger.Warn("cache backend write failed",
				zap.String("key", h.key.Hex()), zap.Error(err))
		} else {
			// The backend owns the blob now; dropping the copy lets an
			// external eviction show up as a soft miss.
			e.data = nil
		}
	}
	return nil
}

// Reset releases a claim after a failed compile, returning the entry to
// New so a future caller may claim it again. Resetting an entry that is
// already New is a no-op.
func (s *Store) Reset(h *Handle) {
	if !h.Claimed() || h.store != s {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entries[h.key]; e != nil && e.state == StateCompiling {
		delete(s.entries, h.key)
	}
	h.claimed = false
}

// WriteBack stores a blob for key without the claim protocol. Used to
// opportunistically populate an external cache after an internal hit.
func (s *Store) WriteBack(ctx context.Context, key hash.Hash, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeDisabled {
		return
	}
	e := s.entries[key]
	if e != nil && e.state == StateReady {
		return
	}
	ne := &entry{state: StateReady, data: append([]byte(nil), blob...)}
	s.entries[key] = ne
	if s.blobs != nil {
		if err := s.blobs.Set(ctx, blobKey(key), blob); err != nil {
			s.logger.Warn("cache write-back failed",
				zap.String("key", key.Hex()), zap.Error(err))
		} else {
			ne.data = nil
		}
	}
}

// Merge bulk-imports every Ready entry of another store, seeding this one
// from an externally supplied cache.
func (s *Store) Merge(ctx context.Context, other *Store) error {
	type item struct {
		key  hash.Hash
		blob []byte
	}

	other.mu.Lock()
	items := make([]item, 0, len(other.entries))
	for key, e := range other.entries {
		if e.state != StateReady {
			continue
		}
		blob := e.data
		if blob == nil && other.blobs != nil {
			loaded, ok, err := other.blobs.Get(ctx, blobKey(key))
			if err != nil || !ok {
				continue
			}
			blob = loaded
		}
		if blob != nil {
			items = append(items, item{key: key, blob: blob})
		}
	}
	other.mu.Unlock()

	for _, it := range items {
		s.WriteBack(ctx, it.key, it.blob)
	}
	return nil
}

// Len reports the number of tracked entries, for tests and diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
