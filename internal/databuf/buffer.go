// Package databuf implements the buffer sum type the IO dispatch path
// passes between decompression, validation, and persistence (§4.B).
//
// A chunk's bytes either live in a buffer this package allocated and owns
// (needed once an async persistence task must keep the bytes alive after
// the synchronous read returns), or they are borrowed directly from a
// caller-supplied destination slice (no copy needed when the caller's own
// buffer is already the right place for the bytes to land).
package databuf

// Kind distinguishes an owned buffer from one borrowed from a caller.
type Kind uint8

const (
	// Allocated marks a buffer this package allocated and owns.
	Allocated Kind = iota
	// Borrowed marks a buffer owned by the caller; it must not outlive the
	// call that supplied it.
	Borrowed
)

// DataBuffer is either an owned, heap-allocated buffer or a slice borrowed
// from a caller. Treat it as a value type; copying a DataBuffer copies the
// header, not the underlying bytes.
type DataBuffer struct {
	kind Kind
	buf  []byte
}

// Allocate returns a DataBuffer backed by a freshly allocated, owned buffer
// of length n.
func Allocate(n int) DataBuffer {
	return DataBuffer{kind: Allocated, buf: make([]byte, n)}
}

// Borrow returns a DataBuffer wrapping a caller-owned slice. The returned
// DataBuffer must not be retained past the lifetime of buf.
func Borrow(buf []byte) DataBuffer {
	return DataBuffer{kind: Borrowed, buf: buf}
}

// Kind reports whether the buffer is Allocated or Borrowed.
func (d DataBuffer) Kind() Kind {
	return d.kind
}

// IsOwned reports whether the buffer is safe to retain beyond the call that
// produced it (i.e. it is Allocated, not Borrowed).
func (d DataBuffer) IsOwned() bool {
	return d.kind == Allocated
}

// Len returns the buffer's length.
func (d DataBuffer) Len() int {
	return len(d.buf)
}

// Slice returns a read-only view of the buffer's bytes.
func (d DataBuffer) Slice() []byte {
	return d.buf
}

// MutSlice returns a mutable view of the buffer's bytes, for in-place
// decompression or digest computation.
func (d DataBuffer) MutSlice() []byte {
	return d.buf
}

// ToOwned returns a DataBuffer guaranteed to be Allocated: d itself if it
// already is, or a fresh copy of a Borrowed buffer's bytes otherwise. Used
// before handing a chunk's bytes to an async persistence task that must
// outlive the originating read call.
func (d DataBuffer) ToOwned() DataBuffer {
	if d.kind == Allocated {
		return d
	}
	owned := make([]byte, len(d.buf))
	copy(owned, d.buf)
	return DataBuffer{kind: Allocated, buf: owned}
}
