//go:build windows

package cowdb

import (
	"golang.org/x/sys/windows"
)

// tryLockExclusive mirrors lock_unix.go's flock semantics using
// LockFileEx over the whole file, matching gdbx/lock_windows.go's
// platform split for the same writer-exclusion contract.
func tryLockExclusive(fd uintptr) error {
	h := windows.Handle(fd)
	var ol windows.Overlapped
	err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ol)
	if err == windows.ERROR_LOCK_VIOLATION || err == windows.ERROR_IO_PENDING {
		return ErrWriterBusy
	}
	if err != nil {
		return wrapErr(ErrIO, err)
	}
	return nil
}

func unlockExclusive(fd uintptr) error {
	h := windows.Handle(fd)
	var ol windows.Overlapped
	if err := windows.UnlockFileEx(h, 0, 1, 0, &ol); err != nil {
		return wrapErr(ErrIO, err)
	}
	return nil
}
