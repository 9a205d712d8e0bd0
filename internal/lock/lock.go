// Package lock provides cross-platform advisory file locks with blocking
// acquisition and release on close.
package lock

import (
	"fmt"
	"os"
	"time"

	"github.com/dolthub/fslock"
)

// FileLock holds an exclusive lock on a lock file. Release it with Unlock.
type FileLock struct {
	path string
	lock *fslock.Lock
}

// Lock blocks until an exclusive lock on path can be acquired. The lock
// file is created if missing.
func Lock(path string) (*FileLock, error) {
	l := fslock.New(path)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("cannot lock %s: %w", path, err)
	}
	return &FileLock{path: path, lock: l}, nil
}

// LockWithTimeout is like Lock but gives up after the timeout.
func LockWithTimeout(path string, timeout time.Duration) (*FileLock, error) {
	l := fslock.New(path)
	if err := l.LockWithTimeout(timeout); err != nil {
		return nil, fmt.Errorf("cannot lock %s: %w", path, err)
	}
	return &FileLock{path: path, lock: l}, nil
}

// Unlock releases the lock and removes the lock file. Removal is best
// effort; a concurrent locker re-creates the file, so losing the race is
// harmless.
func (f *FileLock) Unlock() error {
	if f.lock == nil {
		return nil
	}
	err := f.lock.Unlock()
	f.lock = nil
	_ = os.Remove(f.path)
	return err
}
