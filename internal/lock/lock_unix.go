//go:build !windows

package lock

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// acquire opens the sentinel file and polls flock(2) until it succeeds or
// deadline passes. POSIX gives us real shared/exclusive modes, so the
// caller's choice is honored exactly.
func (l *FileLock) acquire(deadline time.Time) error {
	fd, err := unix.Open(l.path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("lock: open sentinel: %w", err)
	}

	mode := unix.LOCK_SH
	if l.exclusive {
		mode = unix.LOCK_EX
	}

	for {
		err := unix.Flock(fd, mode|unix.LOCK_NB)
		if err == nil {
			l.handle = fd
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			unix.Close(fd)
			return fmt.Errorf("lock: flock: %w", err)
		}
		if time.Now().After(deadline) {
			unix.Close(fd)
			return ErrLockTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (l *FileLock) release() error {
	fd := l.handle.(int)
	err := unix.Flock(fd, unix.LOCK_UN)
	closeErr := unix.Close(fd)
	if err != nil {
		return fmt.Errorf("lock: unlock: %w", err)
	}
	return closeErr
}
