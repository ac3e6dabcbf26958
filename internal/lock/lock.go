// Package lock provides cross-process file locking and atomic file writes.
//
// Most durable state in autoclaude funnels through this package (the audit
// log and the config file are written directly, without it): locked JSON
// reads/updates guarantee that a crash mid-write never leaves a state file
// partially written, and that two processes racing on the same resource
// serialize rather than corrupt each other's output.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// caller's timeout elapsed.
var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

const pollInterval = 10 * time.Millisecond

// FileLock is a cooperative, cross-process lock on a sentinel file that sits
// alongside the resource it protects (resource "foo.json" locks via
// "foo.json.lock"). It uses the host OS's advisory locking facility (flock
// on POSIX, LockFileEx on Windows) so that it is effective across
// independent processes, not just goroutines within one. Windows has no
// shared-lock mode for this API, so a shared request is upgraded to
// exclusive there, with a logged warning, per spec.md §4.1.
type FileLock struct {
	path      string
	exclusive bool
	handle    any // platform-specific: int fd (unix) or windows.Handle
	acquired  bool
}

// New returns a lock guarding path. The lock itself is taken on a sibling
// ".lock" file so the protected file's own content is never touched by the
// locking mechanism.
func New(path string, exclusive bool) *FileLock {
	return &FileLock{path: sentinelFor(path), exclusive: exclusive}
}

func sentinelFor(path string) string {
	return path + ".lock"
}

// Acquire blocks, polling every 10ms, until the lock is obtained or timeout
// elapses. A zero or negative timeout means "try once, don't wait." The
// actual syscalls live in lock_unix.go/lock_windows.go.
func (l *FileLock) Acquire(timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("lock: create lock dir: %w", err)
	}
	if err := l.acquire(time.Now().Add(timeout)); err != nil {
		return err
	}
	l.acquired = true
	return nil
}

// Release unlocks and closes the sentinel handle. Safe to call on a lock
// that was never acquired.
func (l *FileLock) Release() error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	return l.release()
}

// WithLock acquires an exclusive lock on path, runs fn, and always releases
// the lock afterward — including when fn panics or returns an error.
func WithLock(path string, timeout time.Duration, fn func() error) (err error) {
	l := New(path, true)
	if err := l.Acquire(timeout); err != nil {
		return err
	}
	defer func() {
		if relErr := l.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}

// AtomicWrite writes data to path by creating a temp file in the same
// directory, writing it fully, then renaming over the target. Rename is
// atomic on the same filesystem, so a reader never observes a partial write.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lock: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("lock: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("lock: write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("lock: chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("lock: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lock: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lock: rename into place: %w", err)
	}
	return nil
}

// LockedWrite acquires an exclusive lock on path and performs an atomic
// write under it, so concurrent writers never interleave.
func LockedWrite(path string, data []byte, perm os.FileMode, timeout time.Duration) error {
	return WithLock(path, timeout, func() error {
		return AtomicWrite(path, data, perm)
	})
}

// LockedJSONUpdate decodes the current JSON content of path into out (left
// untouched if the file does not exist or is empty), calls updater, and
// writes the value it returns back atomically — all under a single exclusive
// lock so the read-modify-write cycle is indivisible across processes.
//
// updater takes no arguments: it reads and modifies out through the caller's
// closure. It returns the value to persist, or an error to abort without
// writing.
func LockedJSONUpdate(path string, timeout time.Duration, out any, updater func() (any, error)) error {
	return WithLock(path, timeout, func() error {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("lock: read %s: %w", path, err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("lock: decode %s: %w", path, err)
			}
		}

		result, err := updater()
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("lock: encode %s: %w", path, err)
		}
		return AtomicWrite(path, encoded, 0o644)
	})
}
