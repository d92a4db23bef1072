package compiler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"shadercomp/internal/cache"
	"shadercomp/internal/metrics"
	"shadercomp/pkg/hash"
)

// claimedEntry pairs a claimed cache handle with the store it came from.
type claimedEntry struct {
	store  *cache.Store
	handle *cache.Handle
}

// cacheAccess is the outcome of one tiered lookup: either a blob was found,
// or the caller holds zero or more compile claims to populate. A lookup can
// yield neither when another caller is already compiling the key; the
// policy is non-blocking, so this caller compiles redundantly rather than
// waiting.
type cacheAccess struct {
	blob    []byte
	claimed []claimedEntry
}

func (a *cacheAccess) hit() bool { return a.blob != nil }

// commit transitions every claimed entry to Ready with the blob.
func (a *cacheAccess) commit(ctx context.Context, blob []byte) {
	for _, c := range a.claimed {
		_ = c.store.Insert(ctx, c.handle, blob)
	}
	a.claimed = nil
}

// abandon resets every claimed entry so a future caller can retry.
func (a *cacheAccess) abandon() {
	for _, c := range a.claimed {
		c.store.Reset(c.handle)
	}
	a.claimed = nil
}

// lookupCaches probes the caller-supplied external store first, then the
// runtime's internal store, claiming the compile right on every miss. On an
// external miss with an internal hit, the blob is written back into the
// external claim immediately so the next process-level lookup hits the
// first tier. A Ready entry whose backing blob is gone is a soft miss: the
// entry is demoted and its claim joins this caller's set.
func (c *Compiler) lookupCaches(ctx context.Context, key hash.Hash, partition string) *cacheAccess {
	acc := &cacheAccess{}
	for _, store := range []*cache.Store{c.external, c.runtime.Store()} {
		if store == nil {
			continue
		}
		state, h := store.Lookup(ctx, key, true)
		if state == cache.StateReady {
			blob, err := store.Retrieve(ctx, h)
			if err == nil {
				metrics.CacheLookupsTotal.WithLabelValues(partition, "hit").Inc()
				acc.blob = blob
				acc.commit(ctx, blob)
				return acc
			}
			if !errors.Is(err, cache.ErrUnknown) {
				c.logger.Warn("cache retrieve failed",
					zap.String("key", key.Hex()[:16]), zap.Error(err))
			}
			metrics.CacheLookupsTotal.WithLabelValues(partition, "soft_miss").Inc()
		}
		if h != nil && h.Claimed() {
			acc.claimed = append(acc.claimed, claimedEntry{store: store, handle: h})
		}
	}
	metrics.CacheLookupsTotal.WithLabelValues(partition, "miss").Inc()
	return acc
}
