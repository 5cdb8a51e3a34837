package blobio

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/blobcache"
)

// countingReader wraps a reader and counts bytes read, mirroring the
// teacher's CountingReader.
type countingReader struct {
	r *bytes.Reader
	n uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += uint64(n) //nolint:gosec // n is non-negative by io.Reader contract
	}
	return n, err
}

// ReadByte makes countingReader a flate.Reader, so gzip reads from it
// directly instead of through a read-ahead buffer and n counts only the
// bytes the decoder consumed.
func (cr *countingReader) ReadByte() (byte, error) {
	b, err := cr.r.ReadByte()
	if err == nil {
		cr.n++
	}
	return b, err
}

// GzipChunkCompressedSize reports how many bytes of src a single gzip member
// starting at src[0] consumes once fully decompressed to wantUncompressed
// bytes. Legacy stargz chunks carry no explicit compressed-size field (§4.D);
// the only way to learn it is to decompress until the uncompressed byte
// budget is met and see how much of the compressed stream that consumed.
func GzipChunkCompressedSize(src []byte, wantUncompressed uint32) (uint32, error) {
	cr := &countingReader{r: bytes.NewReader(src)}
	gr, err := gzip.NewReader(cr)
	if err != nil {
		return 0, fmt.Errorf("%w: gzip: %v", blobcache.ErrDecompress, err)
	}
	defer gr.Close() //nolint:errcheck // decompression already happened by the time Close runs
	gr.Multistream(false)

	n, err := io.CopyN(io.Discard, gr, int64(wantUncompressed))
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: gzip: %v", blobcache.ErrDecompress, err)
	}
	if uint32(n) != wantUncompressed { //nolint:gosec // n bounded by wantUncompressed above
		return 0, fmt.Errorf("%w: gzip chunk shorter than declared size", blobcache.ErrDecompress)
	}
	// Read on to the end of the member so its trailer is consumed too.
	if _, err := io.Copy(io.Discard, gr); err != nil {
		return 0, fmt.Errorf("%w: gzip: %v", blobcache.ErrDecompress, err)
	}
	return uint32(cr.n), nil //nolint:gosec // compressed span bounded by len(src)
}
