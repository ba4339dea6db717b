//go:build unix

package cowdb

import (
	"golang.org/x/sys/unix"
)

// gatheredWrite appends bufs at the current end of file in one writev(2)
// syscall, grounded on the teacher's platform-split I/O files
// (gdbx/mmap_unix.go) — this module uses positioned/vectored file I/O
// rather than mmap, per spec.md §4.1.
func (pg *pager) gatheredWrite(bufs [][]byte) error {
	if _, err := pg.f.Seek(0, 2); err != nil {
		return wrapErr(ErrIO, err)
	}
	fd := int(pg.f.Fd())
	remaining := bufs
	for len(remaining) > 0 {
		n, err := unix.Writev(fd, remaining)
		if err != nil {
			return wrapErr(ErrIO, err)
		}
		remaining = dropWritten(remaining, n)
	}
	return nil
}

// dropWritten advances past n bytes already written across the
// concatenation of bufs, returning the remaining tail to retry (short
// writev calls are rare but legal per POSIX).
func dropWritten(bufs [][]byte, n int) [][]byte {
	for n > 0 && len(bufs) > 0 {
		if n >= len(bufs[0]) {
			n -= len(bufs[0])
			bufs = bufs[1:]
			continue
		}
		bufs[0] = bufs[0][n:]
		n = 0
	}
	return bufs
}
