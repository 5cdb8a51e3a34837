// Package merge implements the two-step IO merging/classification engine
// of §4.C: Step 1 groups IO descriptors into maximal contiguous requests on
// the backend (compressed) address space; Step 2 classifies each chunk of
// a request into a dispatch region (CacheFast/CacheSlow/Backend) and
// coalesces adjacent same-kind chunks into one region.
package merge

import "github.com/meigma/blobcache"

// Kind is a region's dispatch kind.
type Kind uint8

const (
	// CacheFast serves a chunk's bytes straight from the cache file with a
	// single pread: the chunk is ready, stored uncompressed, and validation
	// is not required.
	CacheFast Kind = iota
	// CacheSlow reads from the cache file (or falls back to the backend),
	// decompressing and/or validating per chunk before copying out.
	CacheSlow
	// Backend issues one ranged backend read covering every chunk in the
	// region.
	Backend
)

func (k Kind) String() string {
	switch k {
	case CacheFast:
		return "cache-fast"
	case CacheSlow:
		return "cache-slow"
	case Backend:
		return "backend"
	default:
		return "unknown"
	}
}

// Status is a region's lifecycle state (§9: an explicit state machine
// rather than flag-based mutation, to prevent extending a committed
// region).
type Status uint8

const (
	// Init is a region that has been allocated but not yet opened for
	// chunk appends.
	Init Status = iota
	// Open accepts further chunk appends.
	Open
	// Committed no longer accepts appends; it is ready for dispatch.
	Committed
)

// Seg is the sub-range of the user-visible output this region's dispatch
// must produce, expressed relative to the region's own BlobAddress.
type Seg struct {
	Offset uint32
	Len    uint32
}

// Region is a transient, per-request grouping of chunks sharing a dispatch
// Kind and a contiguous address range in that kind's address space (§3).
type Region struct {
	Kind   Kind
	Status Status

	// BlobAddress and BlobLen are the contiguous range this region covers:
	// uncompressed address space for CacheFast/CacheSlow, compressed
	// address space for Backend.
	BlobAddress uint64
	BlobLen     uint64

	// Chunks, Tags, and Ranges are parallel: Tags[i] is true iff Chunks[i]
	// is user-visible (should be copied to the caller's output), and
	// Ranges[i] is the sub-range of Chunks[i]'s uncompressed content the
	// originating IO descriptor requested.
	Chunks []*blobcache.ChunkInfo
	Tags   []bool
	Ranges []blobcache.IORange

	// Seg is the single-pread sub-range for CacheFast dispatch: the
	// region's chunks are contiguous and fully user-visible, so one
	// {offset,len} pair covers the whole region's output.
	Seg Seg
}

// open transitions a freshly allocated region into Open.
func (r *Region) open() {
	r.Status = Open
}

// commit transitions an Open region into Committed; no further chunks may
// be appended after this.
func (r *Region) commit() {
	r.Status = Committed
}

// address returns the region's own view of a chunk's position in its
// address space: uncompressed offset for CacheFast/CacheSlow, compressed
// offset for Backend.
func address(k Kind, c *blobcache.ChunkInfo) uint64 {
	if k == Backend {
		return c.CompressOffset
	}
	return c.UncompressOffset
}

// length returns the chunk's span in the region's address space.
func length(k Kind, c *blobcache.ChunkInfo) uint64 {
	if k == Backend {
		return uint64(c.CompressSize)
	}
	return uint64(c.UncompressSize)
}
