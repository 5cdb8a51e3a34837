package entry

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/blobcache"
	"github.com/meigma/blobcache/internal/blobio"
)

// fakeReader serves reads from an in-memory buffer and counts how many
// times Read was called, to assert single-fetch behavior (§8 property 3).
type fakeReader struct {
	data  []byte
	calls atomic.Int32
}

func (f *fakeReader) Read(_ context.Context, buf []byte, offset uint64) (int, error) {
	f.calls.Add(1)
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeReader) BlobSize() uint64 {
	return uint64(len(f.data))
}

func newTestEntry(t *testing.T, info *blobcache.BlobInfo, reader *fakeReader, cfg blobcache.Config) *Entry {
	t.Helper()
	cfg.WorkDir = t.TempDir()
	e, err := New(info, reader, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// S1: CacheFast hit.
func TestReadCacheFastHit(t *testing.T) {
	c0 := &blobcache.ChunkInfo{Index: 0, UncompressOffset: 0x1000, UncompressSize: 0x1000, CompressOffset: 0x1000, CompressSize: 0x1000}
	info := &blobcache.BlobInfo{BlobID: "b1", ChunkCount: 1, Compressor: blobcache.CompressorNone, Digester: blobcache.DigesterSHA256}
	reader := &fakeReader{data: make([]byte, 0x2000)}
	e := newTestEntry(t, info, reader, blobcache.Config{})

	want := bytes.Repeat([]byte{0xAA}, 0x1000)
	_, err := e.file.WriteAt(want, 0x1000)
	require.NoError(t, err)
	e.readiness.SetReady(e.key(c0))

	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0x200, Len: 0x800}},
	}
	dst := make([]byte, 0x800)
	n, err := e.Read(context.Background(), descs, [][]byte{dst})
	require.NoError(t, err)
	assert.Equal(t, 0x800, n)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 0x800), dst)
	assert.Zero(t, reader.calls.Load(), "CacheFast must not touch the backend")
}

// S2: Backend fetch of two contiguous chunks.
func TestReadBackendFetchTwoContiguousChunks(t *testing.T) {
	c0 := &blobcache.ChunkInfo{Index: 0, CompressOffset: 0, CompressSize: 0x400, UncompressOffset: 0, UncompressSize: 0x400}
	c1 := &blobcache.ChunkInfo{Index: 1, CompressOffset: 0x400, CompressSize: 0x400, UncompressOffset: 0x400, UncompressSize: 0x400}
	info := &blobcache.BlobInfo{BlobID: "b2", ChunkCount: 2, Compressor: blobcache.CompressorNone, Digester: blobcache.DigesterSHA256}

	data := append(bytes.Repeat([]byte{0x01}, 0x400), bytes.Repeat([]byte{0x02}, 0x400)...)
	reader := &fakeReader{data: data}
	e := newTestEntry(t, info, reader, blobcache.Config{})

	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
		{Chunk: c1, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}
	dst := make([]byte, 0x800)
	n, err := e.Read(context.Background(), descs, [][]byte{dst})
	require.NoError(t, err)
	assert.Equal(t, 0x800, n)
	assert.Equal(t, data, dst)
	assert.Equal(t, int32(1), reader.calls.Load(), "contiguous chunks must merge into one backend read")

	require.Eventually(t, func() bool {
		return e.IsChunkReady(c0) && e.IsChunkReady(c1)
	}, time.Second, time.Millisecond, "persistence must complete within a bounded time")

	cached := make([]byte, 0x800)
	_, err = e.file.ReadAt(cached, 0)
	require.NoError(t, err)
	assert.Equal(t, data, cached)
}

// S3: a chunk marked Ready but whose cache-file bytes are corrupted fails
// validation on the CacheSlow path and falls back to a backend fetch, which
// still yields the correct bytes to the caller.
func TestReadValidationFailureFallsBackToBackend(t *testing.T) {
	want := bytes.Repeat([]byte{0x5C}, 0x400)
	sum, err := blobio.Sum(blobcache.DigesterSHA256, want)
	require.NoError(t, err)

	c0 := &blobcache.ChunkInfo{Index: 0, CompressOffset: 0, CompressSize: 0x400, UncompressOffset: 0, UncompressSize: 0x400, Digest: sum}
	info := &blobcache.BlobInfo{BlobID: "b3", ChunkCount: 1, Compressor: blobcache.CompressorNone, Digester: blobcache.DigesterSHA256}
	reader := &fakeReader{data: want}
	e := newTestEntry(t, info, reader, blobcache.Config{CacheValidate: true})

	// Corrupt the cache file at c0's offset even though the readiness map
	// claims it is Ready.
	_, err = e.file.WriteAt(make([]byte, 0x400), 0)
	require.NoError(t, err)
	e.readiness.SetReady(e.key(c0))

	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}
	dst := make([]byte, 0x400)
	n, err := e.Read(context.Background(), descs, [][]byte{dst})
	require.NoError(t, err)
	assert.Equal(t, 0x400, n)
	assert.Equal(t, want, dst, "user read must recover the correct bytes from the backend")
	assert.Equal(t, int32(1), reader.calls.Load(), "validation failure must trigger exactly one backend fetch")
}

// S4: a gap in compress_offset forces two separate backend reads.
func TestReadGapForcesTwoBackendReads(t *testing.T) {
	c0 := &blobcache.ChunkInfo{Index: 0, CompressOffset: 0, CompressSize: 0x400, UncompressOffset: 0, UncompressSize: 0x400}
	c1 := &blobcache.ChunkInfo{Index: 1, CompressOffset: 0x500, CompressSize: 0x400, UncompressOffset: 0x400, UncompressSize: 0x400}
	info := &blobcache.BlobInfo{BlobID: "b4", ChunkCount: 2, Compressor: blobcache.CompressorNone, Digester: blobcache.DigesterSHA256}
	reader := &fakeReader{data: make([]byte, 0x900)}
	e := newTestEntry(t, info, reader, blobcache.Config{})

	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
		{Chunk: c1, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}
	dst := make([]byte, 0x800)
	_, err := e.Read(context.Background(), descs, [][]byte{dst})
	require.NoError(t, err)
	assert.Equal(t, int32(2), reader.calls.Load())
}

// S5: a ready chunk mixed with a ready prefetch IO only reads the user IO.
func TestReadDropsPrefetchIOOnFastPath(t *testing.T) {
	c0 := &blobcache.ChunkInfo{Index: 0, UncompressOffset: 0, UncompressSize: 0x400, CompressOffset: 0, CompressSize: 0x400}
	c1 := &blobcache.ChunkInfo{Index: 1, UncompressOffset: 0x400, UncompressSize: 0x400, CompressOffset: 0x400, CompressSize: 0x400}
	info := &blobcache.BlobInfo{BlobID: "b5", ChunkCount: 2, Compressor: blobcache.CompressorNone, Digester: blobcache.DigesterSHA256}
	reader := &fakeReader{data: make([]byte, 0x800)}
	e := newTestEntry(t, info, reader, blobcache.Config{})

	_, err := e.file.WriteAt(make([]byte, 0x800), 0)
	require.NoError(t, err)
	e.readiness.SetReady(e.key(c0))
	e.readiness.SetReady(e.key(c1))

	descs := []blobcache.IODescriptor{
		{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
		{Chunk: c1, UserIO: false, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
	}
	dst := make([]byte, 0x400)
	n, err := e.Read(context.Background(), descs, [][]byte{dst})
	require.NoError(t, err)
	assert.Equal(t, 0x400, n, "only the user-visible chunk's bytes should be copied")
	assert.Zero(t, reader.calls.Load())
}

// S6: two concurrent readers of the same absent chunk both observe the
// canonical bytes, and the backend is called a small, bounded number of
// times rather than once per reader indefinitely.
func TestReadConcurrentReadersSameChunk(t *testing.T) {
	c0 := &blobcache.ChunkInfo{Index: 0, CompressOffset: 0, CompressSize: 0x400, UncompressOffset: 0, UncompressSize: 0x400}
	info := &blobcache.BlobInfo{BlobID: "b6", ChunkCount: 1, Compressor: blobcache.CompressorNone, Digester: blobcache.DigesterSHA256}
	want := bytes.Repeat([]byte{0x7E}, 0x400)
	reader := &fakeReader{data: want}
	e := newTestEntry(t, info, reader, blobcache.Config{})

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dst := make([]byte, 0x400)
			descs := []blobcache.IODescriptor{
				{Chunk: c0, UserIO: true, Range: blobcache.IORange{Offset: 0, Len: 0x400}},
			}
			_, err := e.Read(context.Background(), descs, [][]byte{dst})
			require.NoError(t, err)
			results[i] = dst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, want, results[0])
	assert.Equal(t, want, results[1])
	assert.LessOrEqual(t, reader.calls.Load(), int32(2), "each reader fetches the chunk at most once")
	require.Eventually(t, func() bool { return e.IsChunkReady(c0) }, time.Second, time.Millisecond)
}
