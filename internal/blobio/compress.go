package blobio

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"

	"github.com/meigma/blobcache"
)

// Decompress decompresses src (one chunk's compressed bytes) into dst, which
// must already be sized to the chunk's declared uncompressed size. It
// returns the number of bytes written to dst.
func Decompress(c blobcache.Compressor, pool *DecompressPool, src []byte, dst []byte) (int, error) {
	switch c {
	case blobcache.CompressorNone:
		n := copy(dst, src)
		return n, nil

	case blobcache.CompressorLZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return 0, fmt.Errorf("%w: lz4: %v", blobcache.ErrDecompress, err)
		}
		return n, nil

	case blobcache.CompressorZstd:
		dec, release, err := pool.Get(bytes.NewReader(src))
		if err != nil {
			return 0, fmt.Errorf("%w: zstd: %v", blobcache.ErrDecompress, err)
		}
		defer release()
		n, err := io.ReadFull(dec, dst)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: zstd: %v", blobcache.ErrDecompress, err)
		}
		return n, nil

	case blobcache.CompressorGzip:
		gr, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return 0, fmt.Errorf("%w: gzip: %v", blobcache.ErrDecompress, err)
		}
		defer gr.Close() //nolint:errcheck // decompression already happened by the time Close runs
		n, err := io.ReadFull(gr, dst)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: gzip: %v", blobcache.ErrDecompress, err)
		}
		return n, nil

	default:
		return 0, fmt.Errorf("%w: unknown compressor %v", blobcache.ErrInvalidArgument, c)
	}
}

// DecompressPool manages reusable zstd decoders to reduce allocation
// overhead across chunk decompressions, adapted from the teacher's
// per-archive decompression pool to per-chunk use.
type DecompressPool struct {
	pool             *sync.Pool
	maxDecoderMemory uint64
}

// NewDecompressPool creates a pool of zstd decoders. If maxMemory is 0, no
// memory limit is applied to decoders.
func NewDecompressPool(maxMemory uint64) *DecompressPool {
	p := &DecompressPool{maxDecoderMemory: maxMemory}
	p.pool = &sync.Pool{
		New: func() any {
			dec, err := p.newDecoder(nil)
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

// Get returns a decoder reading from r. The caller must call the returned
// release function when done with it.
func (p *DecompressPool) Get(r io.Reader) (*zstd.Decoder, func(), error) {
	if p == nil || p.pool == nil {
		dec, err := (*DecompressPool)(nil).newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	value := p.pool.Get()
	dec, ok := value.(*zstd.Decoder)
	if !ok || dec == nil {
		newDec, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return newDec, newDec.Close, nil
	}

	if err := dec.Reset(r); err != nil {
		dec.Close()
		newDec, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return newDec, newDec.Close, nil
	}

	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

func (p *DecompressPool) newDecoder(r io.Reader) (*zstd.Decoder, error) {
	if p == nil || p.maxDecoderMemory == 0 {
		return zstd.NewReader(r)
	}
	return zstd.NewReader(r, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
}
