package entry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/blobcache"
	"github.com/meigma/blobcache/backend"
	"github.com/meigma/blobcache/internal/blobio"
	"github.com/meigma/blobcache/internal/databuf"
	"github.com/meigma/blobcache/internal/merge"
)

// Read merges descs (the IO descriptors of one read call) and dispatches
// the resulting regions against the cache file and backend, writing the concatenation of each descriptor's
// requested sub-range, in order, into dsts (§8 property 2): the caller's
// destination scatter/gather buffer list (§2, §6). The buffers together
// must hold at least the sum of every user-visible descriptor's Range.Len.
func (e *Entry) Read(ctx context.Context, descs []blobcache.IODescriptor, dsts [][]byte) (int, error) {
	if len(descs) == 0 {
		return 0, nil
	}

	requests := merge.Merge(descs, blobcache.DefaultMergingSize, e.flags(), e.IsChunkReady)

	cur := blobio.NewCursor(dsts)
	for _, req := range requests {
		for _, r := range req.Regions {
			if err := e.dispatch(ctx, r, cur); err != nil {
				return cur.Written(), err
			}
		}
	}
	return cur.Written(), nil
}

func (e *Entry) dispatch(ctx context.Context, r *merge.Region, cur *blobio.Cursor) error {
	switch r.Kind {
	case merge.CacheFast:
		return e.dispatchCacheFast(r, cur)
	case merge.CacheSlow:
		return e.dispatchCacheSlow(ctx, r, cur)
	case merge.Backend:
		return e.dispatchBackend(ctx, r, cur)
	default:
		return fmt.Errorf("%w: entry: unknown region kind", blobcache.ErrInvalidArgument)
	}
}

// dispatchCacheFast serves the region's whole user-visible span with a
// single vectored positional read straight into the caller's destination
// buffers (§4.D: "borrow the next length bytes of the user scatter/gather
// buffers via a cursor and issue one preadv"), avoiding any intermediate
// scratch copy.
func (e *Entry) dispatchCacheFast(r *merge.Region, cur *blobio.Cursor) error {
	length := int(r.Seg.Len)
	iov, err := cur.TakeIOVec(length)
	if err != nil {
		return err
	}
	fileOffset := int64(r.BlobAddress) + int64(r.Seg.Offset)
	n, err := readvFullAt(e.file, iov, fileOffset)
	cur.CommitWritten(n)
	return err
}

// dispatchCacheSlow reads, validates, and decompresses each chunk of the
// region individually, then copies its requested sub-range out (§4.D).
func (e *Entry) dispatchCacheSlow(ctx context.Context, r *merge.Region, cur *blobio.Cursor) error {
	for i, c := range r.Chunks {
		buf, err := e.readSingleChunk(ctx, c)
		if err != nil {
			return err
		}
		sub, err := blobio.SliceRange(buf, r.Ranges[i])
		if err != nil {
			return err
		}
		if _, err := cur.Write(sub); err != nil {
			return err
		}
	}
	return nil
}

// dispatchBackend issues one ranged backend read for the whole region,
// decompresses/validates each chunk, spawns its persistence, and copies
// out the user-visible chunks only (§4.D).
//
// Decompression and validation of the region's chunks are fanned out over
// a bounded errgroup, the way the teacher's batch processor bounds its own
// decode pipeline with an errgroup plus a semaphore.Weighted budget; each
// chunk writes only to its own slot so the fan-out needs no further
// synchronization. The final copy to dst still runs in chunk order so
// property 2 (§8) holds regardless of decode completion order.
func (e *Entry) dispatchBackend(ctx context.Context, r *merge.Region, cur *blobio.Cursor) error {
	blobLen, err := blobio.ToInt(r.BlobLen)
	if err != nil {
		return fmt.Errorf("%w: backend: region too large to allocate: %v", blobcache.ErrInvalidArgument, err)
	}
	raw := make([]byte, blobLen)
	n, err := readRangeFromBackend(ctx, e.reader, raw, r.BlobAddress)
	if err != nil {
		return err
	}
	if uint64(n) != r.BlobLen {
		return fmt.Errorf("%w: backend: short read, want %d got %d", blobcache.ErrIO, r.BlobLen, n)
	}

	compressedSlices := make([][]byte, len(r.Chunks))
	for i, c := range r.Chunks {
		segStart := c.CompressOffset - r.BlobAddress
		segEnd := segStart + uint64(c.CompressSize)
		if segEnd > uint64(len(raw)) {
			return fmt.Errorf("%w: backend: chunk span exceeds region", blobcache.ErrInvalidArgument)
		}
		compressedSlices[i] = raw[segStart:segEnd]
	}

	outs := make([]databuf.DataBuffer, len(r.Chunks))
	sem := semaphore.NewWeighted(decodeConcurrency(len(r.Chunks)))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range r.Chunks {
		i, c, compressed := i, c, compressedSlices[i]
		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			out := databuf.Allocate(int(c.UncompressSize))
			if c.IsCompressed {
				if _, err := blobio.Decompress(e.info.Compressor, e.decomp, compressed, out.MutSlice()); err != nil {
					return err
				}
			} else {
				copy(out.MutSlice(), compressed)
			}
			if e.cfg.CacheValidate {
				if err := blobio.Verify(e.info.Digester, out.Slice(), c.Digest); err != nil {
					return err
				}
			}
			outs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, c := range r.Chunks {
		out := outs[i]

		// The region's compressed bytes are borrowed from the region's own
		// raw buffer (§4.B): persistAsync owns the ToOwned() conversion, so
		// a Borrowed buffer here is safe even though raw goes out of scope
		// once dispatchBackend returns.
		persistBuf := out
		if e.cfg.CacheCompressed {
			persistBuf = databuf.Borrow(compressedSlices[i])
		}
		e.persistAsync(c, persistBuf, e.cfg.CacheCompressed)

		if r.Tags[i] {
			sub, err := blobio.SliceRange(out.Slice(), r.Ranges[i])
			if err != nil {
				return err
			}
			if _, err := cur.Write(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeConcurrency bounds a Backend region's decode fan-out to whichever
// is smaller of its own chunk count and DefaultDecodeConcurrency.
func decodeConcurrency(chunks int) int64 {
	if chunks < 1 {
		return 1
	}
	if chunks > blobcache.DefaultDecodeConcurrency {
		return blobcache.DefaultDecodeConcurrency
	}
	return int64(chunks)
}

// readSingleChunk implements read_single_chunk (§4.D): try the cache file
// first when the blob is stargz, the map is digest-keyed (so an Absent
// answer cannot be trusted), or the chunk is already ready, falling back to
// a raw backend read on a cache miss or validation failure.
func (e *Entry) readSingleChunk(ctx context.Context, c *blobcache.ChunkInfo) ([]byte, error) {
	tryCache := e.info.IsStargz() || !e.directChunkmap || e.IsChunkReady(c)
	if tryCache {
		buf, err := e.readFromCacheFile(c)
		if err == nil {
			e.readiness.SetReady(e.key(c))
			return buf, nil
		}
		e.log.Warn("cache read miss, falling back to backend", "chunk", c.Index, "err", err)
	}
	return e.readRawChunk(ctx, c)
}

func (e *Entry) readFromCacheFile(c *blobcache.ChunkInfo) ([]byte, error) {
	storeCompressed := e.cfg.CacheCompressed
	storedSize, offset := c.UncompressSize, c.UncompressOffset
	if storeCompressed {
		storedSize, offset = c.CompressSize, c.CompressOffset
	}

	raw := make([]byte, storedSize)
	if _, err := readFullAt(e.file, raw, int64(offset)); err != nil {
		return nil, err
	}

	out := raw
	if storeCompressed && c.IsCompressed {
		out = make([]byte, c.UncompressSize)
		if _, err := blobio.Decompress(e.info.Compressor, e.decomp, raw, out); err != nil {
			return nil, err
		}
	}
	if e.cfg.CacheValidate {
		if err := blobio.Verify(e.info.Digester, out, c.Digest); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// readRawChunk implements read_raw_chunk (§4.D): an aligned backend read
// of one chunk, decompressed and validated into an owned buffer, with its
// persistence spawned asynchronously.
func (e *Entry) readRawChunk(ctx context.Context, c *blobcache.ChunkInfo) ([]byte, error) {
	storeCompressed := e.cfg.CacheCompressed

	var raw []byte
	var err error
	if e.info.IsStargz() && c.CompressSize == 0 {
		raw, err = e.readStargzChunk(ctx, c)
	} else {
		raw = make([]byte, c.CompressSize)
		_, err = readRangeFromBackend(ctx, e.reader, raw, c.CompressOffset)
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, c.UncompressSize)
	if c.IsCompressed {
		if _, err := blobio.Decompress(e.info.Compressor, e.decomp, raw, out); err != nil {
			return nil, err
		}
	} else {
		copy(out, raw)
	}
	if e.cfg.CacheValidate {
		if err := blobio.Verify(e.info.Digester, out, c.Digest); err != nil {
			return nil, err
		}
	}

	persistBuf := databuf.Borrow(out)
	if storeCompressed {
		persistBuf = databuf.Borrow(raw)
	}
	e.persistAsync(c, persistBuf, storeCompressed)

	return out, nil
}

// readStargzChunk reads a legacy stargz chunk whose compressed size is not
// framed anywhere (§4.D): it over-reads a scratch buffer, decompresses
// until the chunk's declared uncompressed size is reached, and learns the
// actual compressed span from how much of the scratch that consumed,
// doubling the scratch and retrying if it undershot.
func (e *Entry) readStargzChunk(ctx context.Context, c *blobcache.ChunkInfo) ([]byte, error) {
	scratch := c.UncompressSize
	if scratch == 0 {
		scratch = 4096
	}

	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		buf := make([]byte, scratch)
		n, rerr := e.reader.Read(ctx, buf, c.CompressOffset)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, fmt.Errorf("%w: %v", blobcache.ErrIO, rerr)
		}
		buf = buf[:n]

		size, serr := blobio.GzipChunkCompressedSize(buf, c.UncompressSize)
		if serr == nil {
			return buf[:size], nil
		}
		scratch *= 2
	}
	return nil, fmt.Errorf("%w: stargz chunk exceeds scratch budget", blobcache.ErrDecompress)
}

// persistAsync writes buf to the cache file at chunk c's canonical offset
// in the background, marking the chunk Ready on success or demoting it
// back to Absent and logging on failure (§4.D, §7: persistence failures
// are never surfaced to the user read).
//
// buf is converted to an owned (Allocated) buffer before the goroutine is
// spawned (§4.B, §9 Design Notes: "spawned persistence tasks must receive
// Allocated buffers"), since a Borrowed buffer's backing slice may belong
// to a scratch region buffer the caller is about to discard.
func (e *Entry) persistAsync(c *blobcache.ChunkInfo, buf databuf.DataBuffer, storeCompressed bool) {
	owned := buf.ToOwned()
	chunk := c
	go func() {
		if err := e.persistSem.Acquire(context.Background(), 1); err != nil {
			e.log.Warn("persist semaphore acquire failed", "chunk", chunk.Index, "err", err)
			return
		}
		defer e.persistSem.Release(1)

		offset := chunk.UncompressOffset
		if storeCompressed {
			offset = chunk.CompressOffset
		}
		if _, err := writeFullAt(e.file, owned.Slice(), int64(offset)); err != nil {
			e.log.Warn("persist chunk failed", "chunk", chunk.Index, "err", err)
			e.readiness.Reset(e.key(chunk))
			return
		}
		e.readiness.SetReady(e.key(chunk))
	}()
}

// readFullAt reads exactly len(buf) bytes at off, retrying on EINTR and
// returning a short count only on true end-of-file (§8 boundary
// behaviors).
func readFullAt(f *os.File, buf []byte, off int64) (int, error) {
	var total int
	for total < len(buf) {
		n, err := f.ReadAt(buf[total:], off+int64(total))
		total += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return total, fmt.Errorf("%w: unexpected eof", blobcache.ErrIO)
			}
			return total, fmt.Errorf("%w: %v", blobcache.ErrIO, err)
		}
	}
	return total, nil
}

// writeFullAt writes exactly len(buf) bytes at off, retrying on EINTR.
func writeFullAt(f *os.File, buf []byte, off int64) (int, error) {
	var total int
	for total < len(buf) {
		n, err := f.WriteAt(buf[total:], off+int64(total))
		total += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return total, fmt.Errorf("%w: %v", blobcache.ErrIO, err)
		}
	}
	return total, nil
}

// readRangeFromBackend reads exactly len(buf) bytes from reader starting
// at offset, issuing further reads if the backend returns a short count
// without error.
func readRangeFromBackend(ctx context.Context, reader backend.Reader, buf []byte, offset uint64) (int, error) {
	var total int
	for total < len(buf) {
		n, err := reader.Read(ctx, buf[total:], offset+uint64(total))
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) && total == len(buf) {
				break
			}
			return total, fmt.Errorf("%w: %v", blobcache.ErrIO, err)
		}
		if n == 0 {
			return total, fmt.Errorf("%w: backend: zero-length read with no error", blobcache.ErrIO)
		}
	}
	return total, nil
}
