//go:build unix

package cowdb

import (
	"golang.org/x/sys/unix"
)

// tryLockExclusive attempts a non-blocking exclusive advisory lock on the
// database file, grounded on gdbx/lock.go's use of flock for writer
// exclusion (spec.md §4.10/§5: at most one writer per file across
// processes). Returns ErrBusy if another process/handle holds it.
func tryLockExclusive(fd uintptr) error {
	err := unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
		return ErrWriterBusy
	}
	if err != nil {
		return wrapErr(ErrIO, err)
	}
	return nil
}

func unlockExclusive(fd uintptr) error {
	if err := unix.Flock(int(fd), unix.LOCK_UN); err != nil {
		return wrapErr(ErrIO, err)
	}
	return nil
}
