// Package chunkmap implements the per-chunk readiness map shared by every
// cache entry (§4.A). A chunk is Absent, InFlight (some caller has already
// claimed responsibility for fetching it), or Ready (its bytes are durable
// in the cache file). Two variants share the same contract: Indexed, backed
// by an mmap'd bitmap file addressed by chunk index, and DigestKeyed, an
// in-memory map addressed by content digest for blobs with no chunk index
// table (§3 FeatureNoExternalBlobTable).
package chunkmap

import "context"

// State is a chunk's readiness.
type State uint8

const (
	// Absent means no caller has claimed this chunk yet.
	Absent State = iota
	// InFlight means exactly one caller has claimed this chunk and is
	// responsible for fetching and persisting it.
	InFlight
	// Ready means the chunk's bytes are durable in the cache file.
	Ready
)

// Map is the shared readiness-map contract. Implementations must be safe
// for concurrent use.
type Map interface {
	// IsReadyNowait reports a chunk's readiness without blocking.
	IsReadyNowait(key Key) State

	// IsReady reports whether a chunk is Ready, optionally blocking until it
	// becomes Ready, some other terminal condition is reached, or the wait
	// bound elapses (§4.A). It never blocks when wait is false.
	//
	// When the chunk is Absent, IsReady claims it for the caller by
	// transitioning it to InFlight and returns (false, nil): the caller is
	// now responsible for fetching it and calling SetReady or Reset.
	IsReady(ctx context.Context, key Key, wait bool) (bool, error)

	// SetReady marks a chunk Ready and wakes any waiters.
	SetReady(key Key)

	// Reset demotes a chunk back to Absent, e.g. after a failed fetch, and
	// wakes any waiters so they can retry the claim.
	Reset(key Key)

	// AllReady reports whether every chunk the map knows about is Ready.
	// Used by the cache manager's watchdog to decide when to stop
	// prefetching (§4.D.1, §4.E).
	AllReady() bool

	// Close releases any resources (file handles, mappings) the map holds.
	Close() error
}

// Key addresses a chunk within a map. Indexed maps only use Index;
// DigestKeyed maps only use Digest.
type Key struct {
	Index  uint32
	Digest string
}
