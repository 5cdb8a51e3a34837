// Package blobio provides the codec, digest, and safe-arithmetic primitives
// shared by the cache entry's IO engine: digest verification, decompression
// (none/lz4/zstd/gzip), and scatter/gather buffer helpers (§4.F).
package blobio

import (
	"math"

	"github.com/meigma/blobcache"
)

// ToInt converts a uint64 to int, reporting blobcache.ErrMemOverflow if it
// doesn't fit. Used to size a region's make([]byte, ...) allocation from
// its uint64 BlobLen (§4.D dispatchBackend) without risking a truncating
// conversion on a 32-bit int platform.
func ToInt(size uint64) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, blobcache.ErrMemOverflow
	}
	return int(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
