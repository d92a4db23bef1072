package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"shadercomp/pkg/hash"
)

func testKey(s string) hash.Hash {
	return hash.Of([]byte(s))
}

func TestLookupClaimSingleWinner(t *testing.T) {
	store := NewStore(ModeRuntime, nil, nil)
	key := testKey("never-seen")

	const callers = 16
	var wg sync.WaitGroup
	claims := make([]*Handle, callers)
	states := make([]EntryState, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			states[i], claims[i] = store.Lookup(context.Background(), key, true)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		if states[i] != StateCompiling {
			t.Errorf("caller %d: state = %v, want %v", i, states[i], StateCompiling)
		}
		if claims[i].Claimed() {
			winners++
		} else if claims[i] != nil {
			t.Errorf("caller %d: observer got a non-nil handle", i)
		}
	}
	if winners != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", winners)
	}
}

func TestInsertRetrieveRoundTrip(t *testing.T) {
	store := NewStore(ModeRuntime, nil, nil)
	ctx := context.Background()
	key := testKey("round-trip")
	blob := []byte{0x7f, 'E', 'L', 'F', 1, 2, 3}

	_, h := store.Lookup(ctx, key, true)
	if !h.Claimed() {
		t.Fatal("first lookup did not claim")
	}
	if err := store.Insert(ctx, h, blob); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	state, h2 := store.Lookup(ctx, key, false)
	if state != StateReady {
		t.Fatalf("state after insert = %v, want %v", state, StateReady)
	}
	got, err := store.Retrieve(ctx, h2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("Retrieve = %x, want %x", got, blob)
	}
}

func TestInsertWithoutClaim(t *testing.T) {
	store := NewStore(ModeRuntime, nil, nil)
	ctx := context.Background()
	key := testKey("unclaimed")

	store.Lookup(ctx, key, true) // claim held by the discarded handle

	_, observer := store.Lookup(ctx, key, true)
	if err := store.Insert(ctx, observer, []byte{1}); err != ErrNotClaimed {
		t.Fatalf("Insert with observer handle: err = %v, want %v", err, ErrNotClaimed)
	}
}

func TestResetIdempotent(t *testing.T) {
	store := NewStore(ModeRuntime, nil, nil)
	ctx := context.Background()
	key := testKey("reset")

	_, h := store.Lookup(ctx, key, true)
	store.Reset(h)
	store.Reset(h) // second is a no-op

	state, h2 := store.Lookup(ctx, key, true)
	if state != StateCompiling || !h2.Claimed() {
		t.Fatalf("after reset: state = %v claimed = %v, want fresh claim", state, h2.Claimed())
	}
}

func TestDisabledModeDropsEntries(t *testing.T) {
	store := NewStore(ModeDisabled, nil, nil)
	ctx := context.Background()
	key := testKey("disabled")

	_, h := store.Lookup(ctx, key, true)
	if !h.Claimed() {
		t.Fatal("disabled store must still hand out claims to serialize compiles")
	}
	if err := store.Insert(ctx, h, []byte{1, 2}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if state, _ := store.Lookup(ctx, key, false); state != StateNew {
		t.Fatalf("state after disabled insert = %v, want %v", state, StateNew)
	}
}

func TestSoftMissDemotesAndTransfersClaim(t *testing.T) {
	blobs := NewMemoryBlobStore()
	store := NewStore(ModePersistent, blobs, nil)
	ctx := context.Background()
	key := testKey("evicted")

	_, h := store.Lookup(ctx, key, true)
	if err := store.Insert(ctx, h, []byte("artifact")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Another process evicts the blob behind our back.
	blobs.Clear()

	state, h2 := store.Lookup(ctx, key, false)
	if state != StateReady {
		t.Fatalf("state = %v, want %v", state, StateReady)
	}
	if _, err := store.Retrieve(ctx, h2); err == nil {
		t.Fatal("Retrieve after eviction succeeded, want soft miss")
	}
	if !h2.Claimed() {
		t.Fatal("soft miss must transfer the compile claim to the caller")
	}

	// The caller recompiles and inserts through the same handle.
	if err := store.Insert(ctx, h2, []byte("recompiled")); err != nil {
		t.Fatalf("Insert after demotion: %v", err)
	}
	state, h3 := store.Lookup(ctx, key, false)
	if state != StateReady {
		t.Fatalf("state after reinsert = %v, want %v", state, StateReady)
	}
	got, err := store.Retrieve(ctx, h3)
	if err != nil || !bytes.Equal(got, []byte("recompiled")) {
		t.Fatalf("Retrieve = %q, %v", got, err)
	}
}

func TestCrossProcessVisibilityOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := testKey("cross-process")
	blob := []byte("persisted pipeline")

	first, err := NewDiskBlobStore(dir)
	if err != nil {
		t.Fatalf("NewDiskBlobStore: %v", err)
	}
	storeA := NewStore(ModePersistent, first, nil)
	_, h := storeA.Lookup(ctx, key, true)
	if err := storeA.Insert(ctx, h, blob); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// A new store over the same directory models a new process.
	second, err := NewDiskBlobStore(dir)
	if err != nil {
		t.Fatalf("NewDiskBlobStore: %v", err)
	}
	storeB := NewStore(ModePersistent, second, nil)
	state, h2 := storeB.Lookup(ctx, key, false)
	if state != StateReady {
		t.Fatalf("state in second process = %v, want %v", state, StateReady)
	}
	got, err := storeB.Retrieve(ctx, h2)
	if err != nil || !bytes.Equal(got, blob) {
		t.Fatalf("Retrieve = %q, %v", got, err)
	}
}

func TestMergeImportsReadyEntries(t *testing.T) {
	ctx := context.Background()
	src := NewStore(ModeRuntime, nil, nil)
	dst := NewStore(ModeRuntime, nil, nil)

	ready := testKey("ready")
	_, h := src.Lookup(ctx, ready, true)
	if err := src.Insert(ctx, h, []byte("done")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	inflight := testKey("in-flight")
	src.Lookup(ctx, inflight, true)

	if err := dst.Merge(ctx, src); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	state, h2 := dst.Lookup(ctx, ready, false)
	if state != StateReady {
		t.Fatalf("imported entry state = %v, want %v", state, StateReady)
	}
	if got, err := dst.Retrieve(ctx, h2); err != nil || !bytes.Equal(got, []byte("done")) {
		t.Fatalf("Retrieve imported = %q, %v", got, err)
	}
	if state, _ := dst.Lookup(ctx, inflight, false); state != StateNew {
		t.Fatalf("in-flight entries must not be imported, state = %v", state)
	}
}
