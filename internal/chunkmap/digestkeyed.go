package chunkmap

import (
	"context"
	"sync"
	"time"

	"github.com/meigma/blobcache"
)

// DigestKeyed is the in-memory readiness-map variant for blobs with no
// external chunk index table (§3 FeatureNoExternalBlobTable, §4.A). It has
// no persistent backing: a restart loses all readiness state.
type DigestKeyed struct {
	mu      sync.Mutex
	entries map[string]State
	wake    *broadcaster
	timeout time.Duration
}

// NewDigestKeyed creates an empty digest-keyed readiness map.
func NewDigestKeyed() *DigestKeyed {
	return &DigestKeyed{
		entries: make(map[string]State),
		wake:    newBroadcaster(),
		timeout: blobcache.SingleInflightWaitTimeout,
	}
}

func (m *DigestKeyed) IsReadyNowait(key Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key.Digest]
}

func (m *DigestKeyed) IsReady(ctx context.Context, key Key, wait bool) (bool, error) {
	for {
		m.mu.Lock()
		state := m.entries[key.Digest]
		switch state {
		case Ready:
			m.mu.Unlock()
			return true, nil
		case Absent:
			m.entries[key.Digest] = InFlight
			m.mu.Unlock()
			return false, nil
		}
		m.mu.Unlock()

		if !wait {
			return false, nil
		}
		if err := m.wake.wait(ctx, m.timeout); err != nil {
			return false, err
		}
	}
}

func (m *DigestKeyed) SetReady(key Key) {
	m.mu.Lock()
	m.entries[key.Digest] = Ready
	m.mu.Unlock()
	m.wake.wake()
}

func (m *DigestKeyed) Reset(key Key) {
	m.mu.Lock()
	m.entries[key.Digest] = Absent
	m.mu.Unlock()
	m.wake.wake()
}

func (m *DigestKeyed) AllReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.entries {
		if s != Ready {
			return false
		}
	}
	return true
}

func (m *DigestKeyed) Close() error {
	return nil
}
