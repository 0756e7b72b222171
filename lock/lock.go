// Package lock provides named, mode-typed locks on filesystem paths.
//
// Locks are backed by flock(2) on a lock file next to (or inside) the target,
// so they coordinate goroutines in one process as well as cooperating
// processes on the same machine. They are not meaningful across machines.
//
// A [Manager] is a shared capability: construct one per process and pass it
// to every component that needs locking.
//
//	locks := lock.NewFileManager(lock.ManagerOptions{})
//	l, err := locks.Lock(ctx, dir, lock.Options{Mode: lock.Exclusive})
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
package lock

import (
	"context"
	"errors"
	"path/filepath"
	"time"
)

var (
	// ErrLocked indicates a non-blocking acquisition found the lock held.
	ErrLocked = errors.New("lock is held by another owner")
	// ErrTimeout indicates a blocking acquisition gave up after its timeout.
	ErrTimeout = errors.New("timed out waiting for lock")
	// ErrClosed indicates the lock handle was already closed.
	ErrClosed = errors.New("lock is closed")
)

// Options configures a single lock acquisition.
type Options struct {
	// Mode selects the lock mode. Required.
	Mode Mode

	// DisplayName describes the lock owner in diagnostics and the lock file.
	DisplayName string

	// Timeout bounds how long acquisition may wait. Zero waits until the
	// context is done.
	Timeout time.Duration
}

// Manager acquires locks on filesystem paths.
type Manager interface {
	// Lock returns a handle for target. Exclusive locks are acquired before
	// Lock returns, blocking until available. On-demand locks are acquired
	// inside each WithLock call.
	Lock(ctx context.Context, target string, opts Options) (Lock, error)

	// TryLock is like Lock but never waits: it returns ErrLocked if the
	// primitive is held elsewhere. On-demand modes probe and release.
	TryLock(target string, opts Options) (Lock, error)
}

// Lock is a held or on-demand lock handle. Close releases it.
type Lock interface {
	Target() string
	Mode() Mode

	// WithLock runs fn while the underlying primitive is held. For
	// Exclusive locks the primitive is already held and fn runs directly.
	WithLock(ctx context.Context, fn func() error) error

	Close() error
}

// FilePath returns the lock file used for target. Directory targets keep
// their lock file inside the directory, file targets next to the file.
func FilePath(target string, isDir bool) string {
	target = filepath.Clean(target)
	if isDir {
		return filepath.Join(target, filepath.Base(target)+".lock")
	}
	return target + ".lock"
}
