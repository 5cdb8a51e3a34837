// Package backend defines the abstract backend-reader contract consumed by
// the cache entry and cache manager (§6 EXTERNAL INTERFACES). Concrete
// backend drivers (registry HTTP, OSS, local) are out of scope (§1); only
// the contract they must satisfy lives here, plus one reference
// implementation (httpreader). No test in this module uses httpreader.
package backend

import "context"

// Reader is a positional ranged-read handle onto one remote blob.
//
// Errors are not classified as retryable vs fatal at this layer (§6); that
// distinction, if any, belongs to the concrete driver.
type Reader interface {
	// Read performs a ranged read of len(buf) bytes starting at offset and
	// returns the number of bytes actually read. A short read that is not
	// EOF-like should be surfaced as an error by the caller.
	Read(ctx context.Context, buf []byte, offset uint64) (int, error)

	// BlobSize returns the total size of the remote blob. Not implemented
	// for stargz blobs, which return 0 (§6).
	BlobSize() uint64
}
