package entry

import (
	"context"

	"github.com/meigma/blobcache"
)

// Prefetch schedules best-effort background reads that warm the cache so
// subsequent user reads hit CacheFast/CacheSlow (§4.D.1). It never blocks
// the caller and never blocks a concurrent user Read; worker scheduling
// policy (rate limiting, thread depth) is out of scope and left to the
// caller's own goroutine pool sizing.
//
// It returns the number of descriptors accepted for prefetching. Already
// Ready chunks and descriptors submitted after StopPrefetch are not
// accepted.
func (e *Entry) Prefetch(ctx context.Context, descs []blobcache.IODescriptor) int {
	if e.stopPrefetch.Load() {
		return 0
	}

	accepted := 0
	for _, d := range descs {
		if e.IsChunkReady(d.Chunk) {
			continue
		}
		accepted++
		go e.prefetchOne(ctx, d.Chunk)
	}
	return accepted
}

func (e *Entry) prefetchOne(ctx context.Context, c *blobcache.ChunkInfo) {
	if e.stopPrefetch.Load() {
		return
	}
	if _, err := e.readSingleChunk(ctx, c); err != nil {
		e.log.Debug("prefetch chunk failed", "chunk", c.Index, "err", err)
	}
}

// StopPrefetch sets a cooperative stop flag observed by prefetch loops and
// returns promptly; any persistence tasks already in flight run to
// completion (§4.D.1, §5).
func (e *Entry) StopPrefetch() {
	e.stopPrefetch.Store(true)
}
