// Package blobcache implements a content-addressed blob cache that sits
// between an on-demand filesystem layer and a remote object-storage backend.
//
// Reads are satisfied either from a local cache file that holds previously
// fetched, decompressed chunk data, or by a merged range read against the
// backend that populates the cache as a side effect. Concurrent readers may
// request overlapping regions; a chunk is validated when configured to and
// persisted so that reads after it is Ready are served locally. Concurrent
// readers of a chunk that is not yet Ready may each fetch it from the
// backend (§5).
//
// The entry package binds one cache file to one remote blob. The manager
// package owns the directory of entries, keyed by blob id. The internal
// merge package turns a list of chunk requests into a minimal set of
// backend range reads and cache-file reads.
package blobcache
