package blobcache

import "fmt"

// Compressor identifies the compression algorithm a blob's chunks are
// stored under, when compressed.
type Compressor uint8

// Supported compressor tags (§3 Blob descriptor).
const (
	CompressorNone Compressor = iota
	CompressorLZ4
	CompressorZstd
	CompressorGzip
)

// String returns the human-readable name of the compressor.
func (c Compressor) String() string {
	switch c {
	case CompressorNone:
		return "none"
	case CompressorLZ4:
		return "lz4"
	case CompressorZstd:
		return "zstd"
	case CompressorGzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// Digester identifies the content-hash algorithm used to validate chunks.
type Digester uint8

// Supported digester tags (§3 Blob descriptor).
const (
	DigesterBlake3 Digester = iota
	DigesterSHA256
)

// String returns the human-readable name of the digester.
func (d Digester) String() string {
	switch d {
	case DigesterBlake3:
		return "blake3"
	case DigesterSHA256:
		return "sha256"
	default:
		return "unknown"
	}
}

// Features is a bitset of blob-level feature flags (§3 Blob descriptor).
type Features uint32

const (
	// FeatureNoExternalBlobTable forces a digest-keyed readiness map because
	// the blob has no chunk index table to address an indexed bitmap by.
	FeatureNoExternalBlobTable Features = 1 << iota

	// FeatureStargz marks a blob as compressed-at-rest with unknown chunk
	// sizes a priori (legacy seekable-gzip format).
	FeatureStargz
)

// Has reports whether f includes all bits of other.
func (f Features) Has(other Features) bool {
	return f&other == other
}

// BlobInfo is the immutable, shared descriptor for one remote blob (§3).
type BlobInfo struct {
	// BlobID uniquely identifies the remote blob.
	BlobID string

	// ChunkCount is the number of chunks the blob is divided into.
	ChunkCount uint32

	// Compressor is the compression algorithm chunks are stored under.
	Compressor Compressor

	// Digester is the content-hash algorithm used to validate chunks.
	Digester Digester

	// CompressedSize is the total size of the blob in the backend.
	CompressedSize uint64

	// UncompressedSize is the total decompressed size of the blob.
	UncompressedSize uint64

	// Features is the blob-level feature bitset.
	Features Features
}

// HasChunkTable reports whether the blob carries an external chunk index
// table, i.e. chunks can be addressed by index rather than only by digest.
func (b *BlobInfo) HasChunkTable() bool {
	return !b.Features.Has(FeatureNoExternalBlobTable)
}

// IsStargz reports whether the blob is a legacy seekable-gzip blob.
func (b *BlobInfo) IsStargz() bool {
	return b.Features.Has(FeatureStargz)
}

// ChunkInfo is the immutable descriptor for one chunk within a blob (§3).
type ChunkInfo struct {
	// Index is this chunk's position in [0, BlobInfo.ChunkCount).
	Index uint32

	// CompressOffset is this chunk's offset in the remote (compressed)
	// address space.
	CompressOffset uint64

	// CompressSize is this chunk's size in the remote (compressed) address
	// space. For stargz blobs this may be a computed upper bound, since
	// gzip frames carry no explicit size header.
	CompressSize uint32

	// UncompressOffset is this chunk's offset in the local cache-file
	// (uncompressed) address space.
	UncompressOffset uint64

	// UncompressSize is this chunk's decompressed size.
	UncompressSize uint32

	// Digest is the chunk's content hash, interpreted per BlobInfo.Digester.
	Digest []byte

	// IsCompressed reports whether this chunk's bytes are compressed at
	// rest in the backend (always true for stargz).
	IsCompressed bool
}

// storedSize returns the size of this chunk's bytes as they are meant to be
// stored in the cache file, given whether the entry stores chunks
// compressed-at-rest.
func (c *ChunkInfo) storedSize(storeCompressed bool) uint32 {
	if storeCompressed {
		return c.CompressSize
	}
	return c.UncompressSize
}

func (c *ChunkInfo) String() string {
	return fmt.Sprintf("chunk[%d] compress=[%d,+%d) uncompress=[%d,+%d)",
		c.Index, c.CompressOffset, c.CompressSize, c.UncompressOffset, c.UncompressSize)
}

// IORange is a sub-range {offset, len} of a chunk's uncompressed content
// that a caller actually wants, relative to the start of the chunk.
type IORange struct {
	Offset uint32
	Len    uint32
}

// IODescriptor describes one chunk request within a single read call (§3).
type IODescriptor struct {
	// Chunk is the chunk descriptor this request targets.
	Chunk *ChunkInfo

	// UserIO is true when a real caller requested this data; false for
	// prefetch/amplification reads that must never block user latency.
	UserIO bool

	// Range is the sub-range of the chunk's uncompressed content the
	// caller wants.
	Range IORange
}
