package merge

import "github.com/meigma/blobcache"

// Flags carries the per-entry settings Step 2's classification depends on
// (§3 Cache entry flags, §4.C).
type Flags struct {
	// StoreCompressed is true when the cache file stores chunks
	// compressed-at-rest rather than decompressed.
	StoreCompressed bool
	// NeedValidate requires a digest check before a chunk can be served
	// CacheFast.
	NeedValidate bool
	// DirectChunkmap is true for the Indexed readiness-map variant; false
	// for DigestKeyed, whose "ready" observations are not trustworthy
	// enough to skip trying the cache file.
	DirectChunkmap bool
	// IsStargz routes stargz chunks that are not Ready through CacheSlow's
	// chunk-at-a-time path, which tries the cache file before the backend.
	IsStargz bool
}

// Request is one maximal run of chunks whose compress_offset values are
// contiguous and whose total compressed span does not exceed the
// configured merging size (§4.C Step 1).
type Request struct {
	BlobOffset uint64
	BlobLen    uint64
	Regions    []*Region
}

// ReadyChecker reports whether a chunk is currently Ready, without
// blocking. It is the merge package's only dependency on chunkmap, kept
// abstract so merge has no import of the chunkmap package.
type ReadyChecker func(c *blobcache.ChunkInfo) bool

// Merge runs both merging steps over descs, an ordered list of IO
// descriptors for one read call, already assumed sorted by the chunk's
// CompressOffset.
func Merge(descs []blobcache.IODescriptor, mergingSize uint64, flags Flags, isReady ReadyChecker) []Request {
	if len(descs) == 0 {
		return nil
	}

	requests := make([]Request, 0, len(descs))
	start := 0
	reqStart := descs[0].Chunk.CompressOffset
	reqEnd := reqStart + uint64(descs[0].Chunk.CompressSize)

	flush := func(end int) {
		requests = append(requests, buildRequest(descs[start:end], reqStart, reqEnd, flags, isReady))
	}

	for i := 1; i < len(descs); i++ {
		c := descs[i].Chunk
		span := c.CompressOffset + uint64(c.CompressSize) - reqStart
		if c.CompressOffset == reqEnd && span <= mergingSize {
			reqEnd = c.CompressOffset + uint64(c.CompressSize)
			continue
		}
		flush(i)
		start = i
		reqStart = c.CompressOffset
		reqEnd = reqStart + uint64(c.CompressSize)
	}
	flush(len(descs))

	out := make([]Request, len(requests))
	copy(out, requests)
	return out
}

func buildRequest(descs []blobcache.IODescriptor, blobOffset, blobEnd uint64, flags Flags, isReady ReadyChecker) Request {
	req := Request{BlobOffset: blobOffset, BlobLen: blobEnd - blobOffset}

	var trailing *Region
	for _, d := range descs {
		kind := classify(isReady(d.Chunk), flags)

		if !d.UserIO && kind != Backend {
			// Prefetch/amplify IOs that would be served from the cache
			// file (CacheFast or CacheSlow) never reach a region, and no
			// readiness state is changed for them. A CacheFast chunk is
			// already Ready; a CacheSlow one may not be.
			continue
		}

		addr := address(kind, d.Chunk)
		if trailing != nil && trailing.Kind == kind && addr == trailing.BlobAddress+trailing.BlobLen {
			appendChunk(trailing, d, kind)
			continue
		}

		r := &Region{Kind: kind, BlobAddress: addr}
		r.open()
		appendChunk(r, d, kind)
		req.Regions = append(req.Regions, r)
		trailing = r
	}

	for _, r := range req.Regions {
		r.commit()
	}
	return req
}

func appendChunk(r *Region, d blobcache.IODescriptor, kind Kind) {
	if len(r.Chunks) == 0 {
		r.Seg.Offset = d.Range.Offset
	}
	r.Chunks = append(r.Chunks, d.Chunk)
	r.Tags = append(r.Tags, d.UserIO)
	r.Ranges = append(r.Ranges, d.Range)
	r.BlobLen += length(kind, d.Chunk)
	if d.UserIO {
		r.Seg.Len += d.Range.Len
	}
}

// classify decides a chunk's dispatch Kind per §4.C Step 2.
func classify(ready bool, f Flags) Kind {
	if ready && !f.StoreCompressed && !f.NeedValidate {
		return CacheFast
	}
	if ready || !f.DirectChunkmap || f.IsStargz {
		return CacheSlow
	}
	return Backend
}
