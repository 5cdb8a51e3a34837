package blobcache

import "time"

// Default configuration values (§6 Configuration, §4.A wait timeout).
const (
	// DefaultMergingSize is the default maximum compressed span a single
	// backend region may cover before the merger starts a new region.
	// Two times a conservative default chunk size (§4.C Step 1).
	DefaultMergingSize = 2 * (4 << 20)

	// SingleInflightWaitTimeout bounds how long is_ready(wait=true) blocks
	// on an in-flight chunk before giving up with ErrTimeout (§4.A, §5).
	SingleInflightWaitTimeout = 2 * time.Second

	// DefaultPrefetchThreads is the default value of
	// PrefetchConfig.ThreadsCount; scheduling policy itself is out of scope
	// (§1).
	DefaultPrefetchThreads = 4

	// DefaultDecodeConcurrency bounds how many chunks of a single Backend
	// region are decompressed/validated concurrently (§4.D dispatchBackend).
	DefaultDecodeConcurrency = 8

	// DefaultPersistConcurrency bounds how many spawned persistence tasks
	// (§4.D step 4) may write to the cache file concurrently.
	DefaultPersistConcurrency = 8
)

// Config collects the configuration options the core recognizes (§6).
type Config struct {
	// CacheCompressed stores compressed bytes in the cache file rather
	// than decompressed bytes. entry.New rejects it for stargz blobs.
	CacheCompressed bool

	// CacheValidate enables per-chunk digest validation on read.
	CacheValidate bool

	// DisableIndexedMap forces a digest-keyed readiness map even when the
	// blob carries a chunk index table.
	DisableIndexedMap bool

	// WorkDir is the directory cache files and readiness bitmaps are
	// stored under.
	WorkDir string

	Prefetch PrefetchConfig
}

// PrefetchConfig configures the best-effort cache-warming hooks (§4.D.1).
// Scheduling policy (rate limiting, thread depth) is out of scope; the
// entry and manager do not read these values.
type PrefetchConfig struct {
	Enable        bool
	ThreadsCount  int
	MergingSize   uint64
	BandwidthRate uint64
}

// Option configures a Config.
type Option func(*Config)

// WithCacheCompressed stores chunk bytes compressed-at-rest in the cache file.
func WithCacheCompressed(enabled bool) Option {
	return func(c *Config) { c.CacheCompressed = enabled }
}

// WithCacheValidate enables per-chunk digest validation on read.
func WithCacheValidate(enabled bool) Option {
	return func(c *Config) { c.CacheValidate = enabled }
}

// WithDisableIndexedMap forces the digest-keyed readiness map variant.
func WithDisableIndexedMap(disabled bool) Option {
	return func(c *Config) { c.DisableIndexedMap = disabled }
}

// WithWorkDir sets the directory that cache files and readiness bitmaps
// live under.
func WithWorkDir(dir string) Option {
	return func(c *Config) { c.WorkDir = dir }
}

// WithPrefetch configures the prefetch hook.
func WithPrefetch(cfg PrefetchConfig) Option {
	return func(c *Config) { c.Prefetch = cfg }
}

// DefaultConfig returns the zero-value configuration with defaults applied.
func DefaultConfig() Config {
	return Config{
		Prefetch: PrefetchConfig{
			ThreadsCount: DefaultPrefetchThreads,
			MergingSize:  DefaultMergingSize,
		},
	}
}

// NewConfig builds a Config from options, starting from DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
