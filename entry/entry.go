// Package entry implements the blob cache entry (§3, §4.D): one local
// cache file per remote blob, bound to a readiness map, a backend reader,
// and the merge/classify IO engine, presenting the read/prefetch contract
// a filesystem layer consumes (§6 BlobCache contract).
package entry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/meigma/blobcache"
	"github.com/meigma/blobcache/backend"
	"github.com/meigma/blobcache/internal/blobio"
	"github.com/meigma/blobcache/internal/chunkmap"
	"github.com/meigma/blobcache/internal/merge"
)

// Entry binds one blob to its local cache file, readiness map, and backend
// reader (§3 Cache entry).
type Entry struct {
	info   *blobcache.BlobInfo
	cfg    blobcache.Config
	reader backend.Reader

	file      *os.File
	readiness chunkmap.Map
	decomp    *blobio.DecompressPool

	// persistSem bounds how many spawned persistence tasks (§4.D step 4)
	// may write to the cache file concurrently, the way the teacher's
	// batch processor bounds its read/decode pipeline with a
	// semaphore.Weighted budget.
	persistSem *semaphore.Weighted

	// directChunkmap mirrors the entry flag of the same name (§3): true
	// when the readiness map is Indexed and addressable by chunk index.
	directChunkmap bool
	// blobObjectSupported = !store_compressed ∧ direct_chunkmap ∧ !is_stargz.
	blobObjectSupported bool

	stopPrefetch atomic.Bool
	log          *slog.Logger
}

// New constructs an Entry for info, opening (or creating) its cache file
// and readiness map under cfg.WorkDir. Configuration is validated first
// (§4.E): an empty blob id, an empty work dir, or cache_compressed on a
// stargz blob is rejected. A blob without a chunk table always gets the
// digest-keyed readiness map.
func New(info *blobcache.BlobInfo, reader backend.Reader, cfg blobcache.Config, logger *slog.Logger) (*Entry, error) {
	if err := validateConfig(info, cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	path := filepath.Join(cfg.WorkDir, info.BlobID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: entry: open cache file: %v", blobcache.ErrIO, err)
	}

	directChunkmap := !cfg.DisableIndexedMap && info.HasChunkTable()

	var readiness chunkmap.Map
	if directChunkmap {
		readiness, err = chunkmap.OpenIndexed(path+".chunk_map", info.ChunkCount)
	} else {
		readiness = chunkmap.NewDigestKeyed()
	}
	if err != nil {
		file.Close() //nolint:errcheck // best-effort close on error path
		return nil, err
	}

	e := &Entry{
		info:           info,
		cfg:            cfg,
		reader:         reader,
		file:           file,
		readiness:      readiness,
		decomp:         blobio.NewDecompressPool(0),
		persistSem:     semaphore.NewWeighted(blobcache.DefaultPersistConcurrency),
		directChunkmap: directChunkmap,
		log:            logger,
	}
	e.blobObjectSupported = !cfg.CacheCompressed && directChunkmap && !info.IsStargz()
	return e, nil
}

// validateConfig rejects configuration combinations the source treats as
// fatal at construction time (§4.E).
func validateConfig(info *blobcache.BlobInfo, cfg blobcache.Config) error {
	if info.BlobID == "" {
		return fmt.Errorf("%w: entry: empty blob id", blobcache.ErrInvalidArgument)
	}
	if cfg.WorkDir == "" {
		return fmt.Errorf("%w: entry: empty work dir", blobcache.ErrInvalidArgument)
	}
	// store_compressed is rejected for stargz blobs: the entry caches their
	// chunks decompressed only.
	if cfg.CacheCompressed && info.IsStargz() {
		return fmt.Errorf("%w: entry: cache_compressed is redundant for stargz blobs", blobcache.ErrInvalidArgument)
	}
	return nil
}

// BlobSize returns the blob's total uncompressed size.
func (e *Entry) BlobSize() uint64 {
	return e.info.UncompressedSize
}

// IsChunkReady reports a chunk's readiness without blocking (§6).
func (e *Entry) IsChunkReady(c *blobcache.ChunkInfo) bool {
	return e.readiness.IsReadyNowait(e.key(c)) == chunkmap.Ready
}

// IsAllDataReady reports whether every chunk in the blob is Ready. Used by
// the cache manager's watchdog (§4.E).
func (e *Entry) IsAllDataReady() bool {
	return e.readiness.AllReady()
}

// GetBlobObject returns a direct-access view onto the cache file when
// blob_object_supported holds, i.e. the entry stores chunks decompressed,
// addresses them by index, and is not stargz (§3, §6).
func (e *Entry) GetBlobObject() (*BlobObject, bool) {
	if !e.blobObjectSupported {
		return nil, false
	}
	return &BlobObject{file: e.file, info: e.info}, true
}

// Close releases the entry's cache file and readiness map.
func (e *Entry) Close() error {
	err := e.readiness.Close()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (e *Entry) key(c *blobcache.ChunkInfo) chunkmap.Key {
	if e.directChunkmap {
		return chunkmap.Key{Index: c.Index}
	}
	return chunkmap.Key{Digest: string(c.Digest)}
}

func (e *Entry) flags() merge.Flags {
	return merge.Flags{
		StoreCompressed: e.cfg.CacheCompressed,
		NeedValidate:    e.cfg.CacheValidate,
		DirectChunkmap:  e.directChunkmap,
		IsStargz:        e.info.IsStargz(),
	}
}

// BlobObject is a direct-access view onto an entry's cache file, valid only
// while the owning Entry is open.
type BlobObject struct {
	file *os.File
	info *blobcache.BlobInfo
}

// ReadAt reads directly from the cache file at the blob's uncompressed
// offset. The caller is responsible for only reading ranges it knows are
// Ready.
func (b *BlobObject) ReadAt(p []byte, off int64) (int, error) {
	return b.file.ReadAt(p, off)
}

// Size returns the blob's uncompressed size.
func (b *BlobObject) Size() uint64 {
	return b.info.UncompressedSize
}
