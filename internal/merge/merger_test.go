package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/blobcache"
)

func chunk(idx uint32, compressOffset uint64, size uint32) *blobcache.ChunkInfo {
	return &blobcache.ChunkInfo{
		Index:            idx,
		CompressOffset:   compressOffset,
		CompressSize:     size,
		UncompressOffset: compressOffset,
		UncompressSize:   size,
	}
}

func alwaysReady(*blobcache.ChunkInfo) bool { return true }
func neverReady(*blobcache.ChunkInfo) bool  { return false }

func TestClassifyCacheFast(t *testing.T) {
	f := Flags{StoreCompressed: false, NeedValidate: false, DirectChunkmap: true}
	assert.Equal(t, CacheFast, classify(true, f))
}

func TestClassifyCacheSlowWhenValidationRequired(t *testing.T) {
	f := Flags{StoreCompressed: false, NeedValidate: true, DirectChunkmap: true}
	assert.Equal(t, CacheSlow, classify(true, f))
}

func TestClassifyCacheSlowForDigestKeyed(t *testing.T) {
	f := Flags{DirectChunkmap: false}
	assert.Equal(t, CacheSlow, classify(false, f))
}

func TestClassifyCacheSlowForStargz(t *testing.T) {
	f := Flags{DirectChunkmap: true, IsStargz: true}
	assert.Equal(t, CacheSlow, classify(false, f))
}

func TestClassifyBackendWhenAbsent(t *testing.T) {
	f := Flags{DirectChunkmap: true}
	assert.Equal(t, Backend, classify(false, f))
}

// S1: CacheFast hit over a single chunk's sub-range.
func TestMergeCacheFastHit(t *testing.T) {
	c0 := chunk(0, 0x1000, 0x1000)
	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0x200, Len: 0x800}},
	}

	reqs := Merge(descs, blobcache.DefaultMergingSize, Flags{DirectChunkmap: true}, alwaysReady)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Regions, 1)

	r := reqs[0].Regions[0]
	assert.Equal(t, CacheFast, r.Kind)
	assert.Equal(t, Committed, r.Status)
	assert.Equal(t, uint64(0x1000), r.BlobAddress)
	assert.Equal(t, uint32(0x200), r.Seg.Offset)
	assert.Equal(t, uint32(0x800), r.Seg.Len)
}

// S2: two contiguous absent chunks merge into one Backend region.
func TestMergeBackendContiguous(t *testing.T) {
	c0 := chunk(0, 0, 0x400)
	c1 := chunk(1, 0x400, 0x400)
	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
		{Chunk: c1, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}

	reqs := Merge(descs, blobcache.DefaultMergingSize, Flags{DirectChunkmap: true}, neverReady)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Regions, 1)

	r := reqs[0].Regions[0]
	assert.Equal(t, Backend, r.Kind)
	assert.Equal(t, uint64(0), r.BlobAddress)
	assert.Equal(t, uint64(0x800), r.BlobLen)
	assert.Equal(t, []*blobcache.ChunkInfo{c0, c1}, r.Chunks)
}

// S4: a gap in compress_offset forces two separate backend requests.
func TestMergeGapForcesTwoRequests(t *testing.T) {
	c0 := chunk(0, 0, 0x400)
	c1 := chunk(1, 0x500, 0x400)
	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
		{Chunk: c1, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}

	reqs := Merge(descs, blobcache.DefaultMergingSize, Flags{DirectChunkmap: true}, neverReady)
	require.Len(t, reqs, 2)
	assert.Equal(t, uint64(0), reqs[0].BlobOffset)
	assert.Equal(t, uint64(0x500), reqs[1].BlobOffset)
}

// S5: a prefetch IO for an already-ready chunk is dropped entirely.
func TestMergeDropsReadyPrefetchIO(t *testing.T) {
	c0 := chunk(0, 0x1000, 0x1000)
	c1 := chunk(1, 0x2000, 0x1000)
	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x1000}},
		{Chunk: c1, UserIO: false, Range: blobcache.IORange{Offset: 0, Len: 0x1000}},
	}

	reqs := Merge(descs, blobcache.DefaultMergingSize, Flags{DirectChunkmap: true}, alwaysReady)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Regions, 1)
	assert.Equal(t, c0, reqs[0].Regions[0].Chunks[0])
}

// A large span beyond mergingSize starts a new request even though
// addresses are contiguous.
func TestMergeSplitsOnMergingSizeBound(t *testing.T) {
	c0 := chunk(0, 0, 0x400)
	c1 := chunk(1, 0x400, 0x400)
	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
		{Chunk: c1, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}

	reqs := Merge(descs, 0x400, Flags{DirectChunkmap: true}, neverReady)
	require.Len(t, reqs, 2)
}
