package blobio

import (
	"github.com/meigma/blobcache"
)

// SliceRange returns the sub-slice of buf described by r, bounds-checked
// against buf's length.
func SliceRange(buf []byte, r blobcache.IORange) ([]byte, error) {
	end, ok := AddUint64(uint64(r.Offset), uint64(r.Len))
	if !ok || end > uint64(len(buf)) {
		return nil, blobcache.ErrMemOverflow
	}
	return buf[r.Offset : r.Offset+r.Len], nil
}
