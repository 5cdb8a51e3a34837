package manager

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/blobcache"
)

type fakeReader struct{ size uint64 }

func (f *fakeReader) Read(context.Context, []byte, uint64) (int, error) { return 0, nil }
func (f *fakeReader) BlobSize() uint64                                  { return f.size }

func TestGetOrCreateReturnsSameEntry(t *testing.T) {
	m := New(&fakeReader{}, blobcache.Config{WorkDir: t.TempDir()})
	info := &blobcache.BlobInfo{BlobID: "b1", ChunkCount: 1}

	e1, err := m.GetOrCreate(info)
	require.NoError(t, err)
	e2, err := m.GetOrCreate(info)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
}

func TestGetOrCreateConcurrentRaceReturnsOneEntry(t *testing.T) {
	m := New(&fakeReader{}, blobcache.Config{WorkDir: t.TempDir()})
	info := &blobcache.BlobInfo{BlobID: "b2", ChunkCount: 1}

	const n = 8
	results := make([]any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := m.GetOrCreate(info)
			require.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i], "all concurrent callers must observe the same entry")
	}
}

func TestGcDropsEntry(t *testing.T) {
	m := New(&fakeReader{}, blobcache.Config{WorkDir: t.TempDir()})
	info := &blobcache.BlobInfo{BlobID: "b3", ChunkCount: 1}
	_, err := m.GetOrCreate(info)
	require.NoError(t, err)

	empty := m.Gc("b3")
	assert.True(t, empty)
	_, ok := m.Get("b3")
	assert.False(t, ok)
}

func TestDestroyIsIdempotent(t *testing.T) {
	m := New(&fakeReader{}, blobcache.Config{WorkDir: t.TempDir()})
	info := &blobcache.BlobInfo{BlobID: "b4", ChunkCount: 1}
	_, err := m.GetOrCreate(info)
	require.NoError(t, err)

	m.Destroy()
	m.Destroy()

	_, err = m.GetOrCreate(info)
	assert.ErrorIs(t, err, blobcache.ErrClosed)
}

func TestCheckStatStopsPrefetchAfterReadyStreak(t *testing.T) {
	m := New(&fakeReader{}, blobcache.Config{WorkDir: t.TempDir()}, WithReadyStreak(2))
	info := &blobcache.BlobInfo{BlobID: "b5", ChunkCount: 0}
	_, err := m.GetOrCreate(info)
	require.NoError(t, err)

	// A zero-chunk blob is vacuously all-ready immediately.
	m.CheckStat()
	m.CheckStat()

	e, ok := m.Get("b5")
	require.True(t, ok)
	assert.True(t, e.IsAllDataReady())
	descs := []blobcache.IODescriptor{{Chunk: &blobcache.ChunkInfo{}, UserIO: false}}
	assert.Zero(t, e.Prefetch(context.Background(), descs), "a stopped entry accepts no prefetch")
}
