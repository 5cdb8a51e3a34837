package blobcache

import "errors"

// Sentinel errors realizing the taxonomy of §7 ERROR HANDLING DESIGN.
//
// These are kinds, not exhaustive per-call error types: callers should use
// errors.Is against these values, and implementations wrap them with
// fmt.Errorf("%w: ...") for context.
var (
	// ErrInvalidArgument marks configuration inconsistencies, malformed
	// descriptors, or address overflow.
	ErrInvalidArgument = errors.New("blobcache: invalid argument")

	// ErrNotFound marks a blob or chunk lookup miss.
	ErrNotFound = errors.New("blobcache: not found")

	// ErrAlreadyExists marks an entry construction race; callers normally
	// never observe this directly since the manager resolves it internally
	// by returning the existing entry.
	ErrAlreadyExists = errors.New("blobcache: already exists")

	// ErrIO marks an underlying filesystem or backend read/write failure,
	// including short reads.
	ErrIO = errors.New("blobcache: io error")

	// ErrDigestMismatch marks a chunk whose computed digest disagreed with
	// its descriptor when validation was required.
	ErrDigestMismatch = errors.New("blobcache: digest mismatch")

	// ErrDecompress marks a codec failure during decompression.
	ErrDecompress = errors.New("blobcache: decompression failed")

	// ErrNotContinuous marks a merger observing a non-contiguous address
	// while attempting to extend a region.
	ErrNotContinuous = errors.New("blobcache: region is not continuous")

	// ErrTimeout marks a readiness wait that exceeded its bound.
	ErrTimeout = errors.New("blobcache: readiness wait timed out")

	// ErrClosed is returned by manager operations after Destroy.
	ErrClosed = errors.New("blobcache: manager is closed")

	// ErrMemOverflow marks a scatter/gather copy whose offset or cursor ran
	// past the destination buffers' bounds.
	ErrMemOverflow = errors.New("blobcache: memory overflow")
)
