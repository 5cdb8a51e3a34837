// Package manager implements the cache manager (§3, §4.E): the directory
// of cache entries keyed by blob id, their construction/lifecycle, and the
// all-ready watchdog that stops prefetch workers once a blob is fully
// warm.
package manager

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/blobcache"
	"github.com/meigma/blobcache/backend"
	"github.com/meigma/blobcache/entry"
)

// Manager owns every cache entry for one process/cache profile, deduplicated
// by blob id (§3 Cache manager).
type Manager struct {
	globalMu sync.RWMutex
	entries  map[string]*entry.Entry

	reader backend.Reader
	cfg    blobcache.Config
	log    *slog.Logger

	createGroup singleflight.Group // deduplicates concurrent GetOrCreate for the same blob id

	closedMu sync.Mutex
	closed   bool

	watchdogMu    sync.Mutex
	readyStreak   map[string]int
	readyRequired int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger handed to every entry the manager
// constructs. The manager itself does not log.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

// WithReadyStreak sets how many consecutive positive is_all_data_ready
// observations CheckStat requires before declaring a blob ready (§4.E).
func WithReadyStreak(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.readyRequired = n
		}
	}
}

// New creates a Manager backed by reader, using cfg for every entry it
// constructs.
func New(reader backend.Reader, cfg blobcache.Config, opts ...Option) *Manager {
	m := &Manager{
		entries:       make(map[string]*entry.Entry),
		reader:        reader,
		cfg:           cfg,
		readyStreak:   make(map[string]int),
		readyRequired: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	return m
}

// GetOrCreate looks up an entry for info.BlobID, constructing and
// inserting one if absent (§4.E). Concurrent callers racing to create the
// same blob id are deduplicated via singleflight; exactly one caller
// constructs the entry and all observe the same result.
func (m *Manager) GetOrCreate(info *blobcache.BlobInfo) (*entry.Entry, error) {
	if e, ok := m.Get(info.BlobID); ok {
		return e, nil
	}

	if m.isClosed() {
		return nil, blobcache.ErrClosed
	}

	v, err, _ := m.createGroup.Do(info.BlobID, func() (any, error) {
		m.globalMu.Lock()
		defer m.globalMu.Unlock()

		if e, exists := m.entries[info.BlobID]; exists {
			return e, nil
		}

		e, err := entry.New(info, m.reader, m.cfg, m.log)
		if err != nil {
			return nil, err
		}
		m.entries[info.BlobID] = e
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry.Entry), nil //nolint:errcheck // type is always *entry.Entry on success
}

// Get looks up an existing entry without constructing one.
func (m *Manager) Get(blobID string) (*entry.Entry, bool) {
	m.globalMu.RLock()
	defer m.globalMu.RUnlock()
	e, ok := m.entries[blobID]
	return e, ok
}

// Gc drops the entry for blobID if given, or scans and drops every entry,
// since the manager does not track external reference counts (§4.E: in a
// process-local embedding, the manager itself is the only holder).
// It returns true iff the manager now holds no entries.
func (m *Manager) Gc(blobID string) bool {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	if blobID != "" {
		if e, ok := m.entries[blobID]; ok {
			_ = e.Close() //nolint:errcheck // best-effort close during gc
			delete(m.entries, blobID)
		}
		return len(m.entries) == 0
	}

	for id, e := range m.entries {
		_ = e.Close() //nolint:errcheck // best-effort close during gc
		delete(m.entries, id)
	}
	return true
}

// CheckStat polls every entry's readiness and stops its prefetching once
// readyRequired consecutive positive observations have been seen (§4.E).
// Any negative observation resets that blob's streak to zero.
func (m *Manager) CheckStat() {
	m.globalMu.RLock()
	snapshot := make(map[string]*entry.Entry, len(m.entries))
	for id, e := range m.entries {
		snapshot[id] = e
	}
	m.globalMu.RUnlock()

	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()

	for id, e := range snapshot {
		if e.IsAllDataReady() {
			m.readyStreak[id]++
			if m.readyStreak[id] >= m.readyRequired {
				e.StopPrefetch()
			}
			continue
		}
		m.readyStreak[id] = 0
	}
}

// Destroy idempotently shuts the manager down: it sets the closed flag,
// stops every entry's prefetching, and drops all entries (§4.E, §9).
// Calling it more than once is a no-op.
func (m *Manager) Destroy() {
	m.closedMu.Lock()
	if m.closed {
		m.closedMu.Unlock()
		return
	}
	m.closed = true
	m.closedMu.Unlock()

	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	for id, e := range m.entries {
		e.StopPrefetch()
		_ = e.Close() //nolint:errcheck // best-effort close during shutdown
		delete(m.entries, id)
	}
}

func (m *Manager) isClosed() bool {
	m.closedMu.Lock()
	defer m.closedMu.Unlock()
	return m.closed
}

// Backend returns the shared backend reader every entry reads through.
func (m *Manager) Backend() backend.Reader {
	return m.reader
}
