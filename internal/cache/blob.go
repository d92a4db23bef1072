// Package cache implements the persistent, content-addressed store for
// compiled pipeline binaries.
//
// The store tracks an explicit per-key lifecycle (New -> Compiling ->
// Ready) in process memory, guaranteeing at most one concurrent compile
// per key, and keeps Ready blobs in a pluggable BlobStore backend:
// in-memory for runtime-only caching, on-disk for persistence across
// processes, or Redis for a cache shared between build machines.
package cache

import "context"

// BlobStore is the backing storage for Ready cache entries.
// Implementations must be safe for concurrent use. A backend may lose
// entries at any time (disk cleanup, Redis eviction); the Store treats
// that as a soft miss, never an error surfaced to the caller.
type BlobStore interface {
	// Get returns the blob for key. A clean miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the blob for key, replacing any previous value.
	Set(ctx context.Context, key string, blob []byte) error
	// Delete removes the blob for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// keyPrefix namespaces blob-store keys so several stores (for example per
// option fingerprint) can share one backend.
const keyPrefix = "pipeline"
