package blobio

import "github.com/meigma/blobcache"

// Cursor advances across a caller-supplied scatter/gather destination
// buffer list (§2, §6: "a destination scatter/gather buffer list"),
// tracking a position that may span several buffers and a running count
// of bytes actually delivered.
//
// Two access patterns are supported: Write copies bytes in (used once a
// chunk has already been decompressed/validated into a scratch buffer),
// and TakeIOVec borrows slices of the destination buffers themselves so a
// positional read can land directly in them without an intermediate copy
// (§4.D CacheFast: "borrow the next length bytes of the user scatter/gather
// buffers via a cursor and issue one preadv").
type Cursor struct {
	dsts    [][]byte
	bi, off int
	written int
}

// NewCursor wraps dsts for sequential consumption.
func NewCursor(dsts [][]byte) *Cursor {
	return &Cursor{dsts: dsts}
}

// Written returns the total number of bytes delivered into the
// destination buffers so far.
func (c *Cursor) Written() int {
	return c.written
}

// Write copies p into the destination buffers starting at the cursor's
// current position, advancing it and committing the copied length to
// Written. It returns blobcache.ErrMemOverflow if the destination buffers
// run out before p is exhausted.
func (c *Cursor) Write(p []byte) (int, error) {
	var total int
	for len(p) > 0 {
		dst, ok := c.next()
		if !ok {
			c.written += total
			return total, blobcache.ErrMemOverflow
		}
		n := copy(dst, p)
		c.off += n
		p = p[n:]
		total += n
	}
	c.written += total
	return total, nil
}

// TakeIOVec borrows slices of the destination buffers totaling exactly n
// bytes, advancing the cursor past them without copying. The caller must
// report how many of those bytes were actually filled via CommitWritten;
// TakeIOVec itself does not touch Written, since reserving buffer space is
// not the same as having delivered bytes into it.
func (c *Cursor) TakeIOVec(n int) ([][]byte, error) {
	var iov [][]byte
	for n > 0 {
		dst, ok := c.next()
		if !ok {
			return nil, blobcache.ErrMemOverflow
		}
		take := len(dst)
		if take > n {
			take = n
		}
		iov = append(iov, dst[:take])
		c.off += take
		n -= take
	}
	return iov, nil
}

// CommitWritten records that n bytes most recently reserved via TakeIOVec
// were actually filled.
func (c *Cursor) CommitWritten(n int) {
	c.written += n
}

// next returns the unconsumed tail of the current destination buffer,
// skipping exhausted buffers, or false once every buffer is spent.
func (c *Cursor) next() ([]byte, bool) {
	for c.bi < len(c.dsts) {
		if c.off < len(c.dsts[c.bi]) {
			return c.dsts[c.bi][c.off:], true
		}
		c.bi++
		c.off = 0
	}
	return nil, false
}
