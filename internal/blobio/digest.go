package blobio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	digest "github.com/opencontainers/go-digest"
	"lukechampine.com/blake3"

	"github.com/meigma/blobcache"
)

// NewHasher returns a fresh hash.Hash for the given digester tag.
func NewHasher(d blobcache.Digester) (hash.Hash, error) {
	switch d {
	case blobcache.DigesterBlake3:
		h, err := blake3.New(32, nil)
		if err != nil {
			return nil, fmt.Errorf("blobio: blake3 hasher: %w", err)
		}
		return h, nil
	case blobcache.DigesterSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown digester %v", blobcache.ErrInvalidArgument, d)
	}
}

// Sum computes the digest of data under the given digester.
func Sum(d blobcache.Digester, data []byte) ([]byte, error) {
	h, err := NewHasher(d)
	if err != nil {
		return nil, err
	}
	if _, err := h.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", blobcache.ErrIO, err)
	}
	return h.Sum(nil), nil
}

// Verify recomputes data's digest under d and compares it against want,
// returning blobcache.ErrDigestMismatch on disagreement.
func Verify(d blobcache.Digester, data []byte, want []byte) error {
	got, err := Sum(d, data)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: want %s got %s", blobcache.ErrDigestMismatch, FormatDigest(d, want), FormatDigest(d, got))
	}
	return nil
}

// FormatDigest renders a raw digest as a "<algo>:<hex>" string for logging.
// sha256 goes through opencontainers/go-digest for canonical formatting;
// blake3 is not a go-digest canonical algorithm and is formatted directly.
func FormatDigest(d blobcache.Digester, sum []byte) string {
	switch d {
	case blobcache.DigesterSHA256:
		return digest.NewDigestFromBytes(digest.SHA256, sum).String()
	default:
		return d.String() + ":" + hex.EncodeToString(sum)
	}
}
