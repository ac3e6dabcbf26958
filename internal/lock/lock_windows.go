//go:build windows

package lock

import (
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/windows"
)

// acquire opens the sentinel file and polls LockFileEx until it succeeds or
// deadline passes. Windows has no shared-lock mode for this API; a shared
// request is upgraded to exclusive with a warning, per spec.md §4.1.
func (l *FileLock) acquire(deadline time.Time) error {
	if !l.exclusive {
		log.Printf("lock: shared locks are not supported on Windows; taking an exclusive lock on %s", l.path)
	}

	pathPtr, err := windows.UTF16PtrFromString(l.path)
	if err != nil {
		return fmt.Errorf("lock: encode path: %w", err)
	}
	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return fmt.Errorf("lock: open sentinel: %w", err)
	}

	var overlapped windows.Overlapped
	for {
		err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &overlapped)
		if err == nil {
			l.handle = handle
			return nil
		}
		if !errors.Is(err, windows.ERROR_LOCK_VIOLATION) && !errors.Is(err, windows.ERROR_IO_PENDING) {
			windows.CloseHandle(handle)
			return fmt.Errorf("lock: lockfileex: %w", err)
		}
		if time.Now().After(deadline) {
			windows.CloseHandle(handle)
			return ErrLockTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (l *FileLock) release() error {
	handle := l.handle.(windows.Handle)
	var overlapped windows.Overlapped
	err := windows.UnlockFileEx(handle, 0, 1, 0, &overlapped)
	closeErr := windows.CloseHandle(handle)
	if err != nil {
		return fmt.Errorf("lock: unlock: %w", err)
	}
	return closeErr
}
