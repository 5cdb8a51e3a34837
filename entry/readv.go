package entry

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/meigma/blobcache"
)

// readvFullAt issues one vectored positional read (preadv) at off, filling
// every buffer in iov in order, retrying on EINTR and on short reads that
// are not true end-of-file (§4.D CacheFast, §8 boundary behaviors).
func readvFullAt(f *os.File, iov [][]byte, off int64) (int, error) {
	want := 0
	for _, b := range iov {
		want += len(b)
	}
	if want == 0 {
		return 0, nil
	}

	total := 0
	for total < want {
		rem := trimIOVec(iov, total)
		n, err := preadv(f, rem, off+int64(total))
		total += n
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return total, fmt.Errorf("%w: preadv: %v", blobcache.ErrIO, err)
		}
		if n == 0 {
			return total, fmt.Errorf("%w: preadv: unexpected eof", blobcache.ErrIO)
		}
	}
	return total, nil
}

// trimIOVec returns the tail of iov starting skip bytes in, reusing the
// original backing slices without copying.
func trimIOVec(iov [][]byte, skip int) [][]byte {
	if skip == 0 {
		return iov
	}
	out := make([][]byte, 0, len(iov))
	for _, b := range iov {
		if skip >= len(b) {
			skip -= len(b)
			continue
		}
		out = append(out, b[skip:])
		skip = 0
	}
	return out
}

// preadv wraps unix.Preadv, raising a plain raw connection through
// (*os.File).SyscallConn so the vectored read happens directly against the
// file descriptor (§5 Shared-resource policy: "all writers use positional
// pwrite so there is no shared file offset to corrupt" — preadv is the
// read-side analogue).
func preadv(f *os.File, iov [][]byte, off int64) (int, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var sysErr error
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, sysErr = unix.Preadv(int(fd), iov, off)
		if sysErr == unix.EAGAIN {
			return false
		}
		return true
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	if sysErr != nil {
		return n, sysErr
	}
	return n, nil
}
