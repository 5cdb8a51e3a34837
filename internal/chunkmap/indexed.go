package chunkmap

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/meigma/blobcache"
)

// bitsPerChunk is the width of one chunk's readiness slot in the bitmap:
// 2 bits encode Absent/InFlight/Ready with one pattern spare.
const bitsPerChunk = 2

// Indexed is the mmap'd, 2-bit-per-chunk readiness-map variant used for
// blobs that carry an external chunk index table (§3, §4.A). Its backing
// file survives a restart; any chunk found InFlight at load time is demoted
// to Absent, since the fetcher that claimed it is gone.
type Indexed struct {
	mu      sync.Mutex
	data    []byte // mmap'd view over the backing file
	count   uint32
	wake    *broadcaster
	timeout time.Duration
	file    *os.File
}

// OpenIndexed opens or creates the readiness bitmap file at path, sized for
// chunkCount chunks. On open of a pre-existing file, any chunk observed
// InFlight is demoted to Absent (§4.A restart semantics).
func OpenIndexed(path string, chunkCount uint32) (*Indexed, error) {
	size := bitmapBytes(chunkCount)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: chunkmap: open %s: %v", blobcache.ErrIO, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck // best-effort close on error path
		return nil, fmt.Errorf("%w: chunkmap: stat %s: %v", blobcache.ErrIO, path, err)
	}
	existed := info.Size() == int64(size)
	if info.Size() != int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close() //nolint:errcheck // best-effort close on error path
			return nil, fmt.Errorf("%w: chunkmap: truncate %s: %v", blobcache.ErrIO, path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close() //nolint:errcheck // best-effort close on error path
		return nil, fmt.Errorf("%w: chunkmap: mmap %s: %v", blobcache.ErrIO, path, err)
	}

	m := &Indexed{
		data:    data,
		count:   chunkCount,
		wake:    newBroadcaster(),
		timeout: blobcache.SingleInflightWaitTimeout,
		file:    f,
	}
	if existed {
		m.demoteInFlight()
	}
	return m, nil
}

func bitmapBytes(chunkCount uint32) uint64 {
	bits := uint64(chunkCount) * bitsPerChunk
	size := (bits + 7) / 8
	if size == 0 {
		// mmap requires a non-empty mapping even for a zero-chunk blob.
		size = 1
	}
	return size
}

func (m *Indexed) demoteInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := uint32(0); i < m.count; i++ {
		if m.getLocked(i) == InFlight {
			m.setLocked(i, Absent)
		}
	}
}

func (m *Indexed) getLocked(idx uint32) State {
	byteIdx := idx * bitsPerChunk / 8
	shift := (idx * bitsPerChunk) % 8
	return State((m.data[byteIdx] >> shift) & 0x3)
}

func (m *Indexed) setLocked(idx uint32, s State) {
	byteIdx := idx * bitsPerChunk / 8
	shift := (idx * bitsPerChunk) % 8
	m.data[byteIdx] &^= 0x3 << shift
	m.data[byteIdx] |= byte(s) << shift
}

func (m *Indexed) IsReadyNowait(key Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key.Index)
}

func (m *Indexed) IsReady(ctx context.Context, key Key, wait bool) (bool, error) {
	for {
		m.mu.Lock()
		state := m.getLocked(key.Index)
		switch state {
		case Ready:
			m.mu.Unlock()
			return true, nil
		case Absent:
			m.setLocked(key.Index, InFlight)
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

func (m *Indexed) SetReady(key Key) {
	m.mu.Lock()
	m.setLocked(key.Index, Ready)
	m.mu.Unlock()
	m.wake.wake()
}

func (m *Indexed) Reset(key Key) {
	m.mu.Lock()
	m.setLocked(key.Index, Absent)
	m.mu.Unlock()
	m.wake.wake()
}

func (m *Indexed) AllReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := uint32(0); i < m.count; i++ {
		if m.getLocked(i) != Ready {
			return false
		}
	}
	return true
}

// Close unmaps the bitmap and closes its backing file.
func (m *Indexed) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
