// Package cache manages cache roots: directories whose entries are shared by
// cooperating processes and periodically cleaned up.
//
// A Root owns one base directory and a coordination lock whose mode is fixed
// when the root is opened. Work on the root's entries runs inside
// [Root.WithFileLock]; cleanup needs exclusive coordination, so it never
// interleaves with that work.
//
// # Layout
//
//	<dir>/<base>.lock    coordination lock
//	<dir>/gc.properties  modification time is the last cleanup run
//	<dir>/...            entries
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amonks/workcache/cleanup"
	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/lock"
)

// ErrClosed indicates the root was already closed.
var ErrClosed = errors.New("cache root is closed")

const gcFileName = "gc.properties"

// Options configures a cache root.
type Options struct {
	// Dir is the base directory. It is created if missing. Required.
	Dir string

	// Mode is the coordination lock mode. Required.
	Mode lock.Mode

	// DisplayName describes the root in locks and logs. Defaults to the
	// base name of Dir.
	DisplayName string

	// Locks is the process's lock manager. Required.
	Locks lock.Manager

	// Cleanup runs on open when its frequency says so. Nil disables cleanup.
	Cleanup *cleanup.Strategy

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Root is an open cache root.
type Root struct {
	dir         string
	mode        lock.Mode
	displayName string
	locks       lock.Manager
	lock        lock.Lock
	cleanup     *cleanup.Strategy
	logger      *slog.Logger
	now         func() time.Time

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
	active    sync.WaitGroup
}

// Open opens the cache root described by opts, running cleanup if it is due.
func Open(ctx context.Context, opts Options) (*Root, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if !opts.Mode.IsValid() {
		return nil, fmt.Errorf("invalid lock mode %v", opts.Mode)
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	r := &Root{
		dir:         dir,
		mode:        opts.Mode,
		displayName: opts.DisplayName,
		locks:       opts.Locks,
		cleanup:     opts.Cleanup,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if r.displayName == "" {
		r.displayName = filepath.Base(dir)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.now == nil {
		r.now = time.Now
	}

	r.lock, err = r.locks.Lock(ctx, dir, lock.Options{Mode: opts.Mode, DisplayName: r.displayName})
	if err != nil {
		return nil, fmt.Errorf("lock cache %s: %w", r.displayName, err)
	}

	if err := r.cleanupIfDue(ctx); err != nil {
		r.lock.Close()
		return nil, err
	}
	return r, nil
}

// Dir returns the absolute base directory.
func (r *Root) Dir() string {
	return r.dir
}

// Mode returns the coordination lock mode.
func (r *Root) Mode() lock.Mode {
	return r.mode
}

// DisplayName returns the root's display name.
func (r *Root) DisplayName() string {
	return r.displayName
}

// Reserved returns the files in the root that are not entries.
func (r *Root) Reserved() []string {
	return []string{lock.FilePath(r.dir, true), r.gcFile()}
}

// IsReserved reports whether path is one of the root's own files.
func (r *Root) IsReserved(path string) bool {
	path = filepath.Clean(path)
	for _, reserved := range r.Reserved() {
		if path == reserved {
			return true
		}
	}
	return false
}

// WithFileLock runs fn while holding the root's coordination lock.
func (r *Root) WithFileLock(ctx context.Context, fn func() error) error {
	if !r.enter() {
		return ErrClosed
	}
	defer r.active.Done()
	return r.lock.WithLock(ctx, fn)
}

// enter registers an in-flight caller unless the root is closed. Callers
// that entered must call r.active.Done.
func (r *Root) enter() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.active.Add(1)
	return true
}

// Cleanup runs the cleanup action now regardless of its frequency. The
// bool reports whether the pass ran; it does not if the root is busy or
// has no cleanup strategy.
func (r *Root) Cleanup(ctx context.Context) (cleanup.Result, bool, error) {
	if !r.enter() {
		return cleanup.Result{}, false, ErrClosed
	}
	defer r.active.Done()
	if r.cleanup == nil || r.cleanup.Action == nil {
		return cleanup.Result{}, false, nil
	}
	return r.runCleanup(ctx)
}

// Close releases the coordination lock once in-flight WithFileLock and
// Cleanup calls have returned; calling it from inside one deadlocks. Later
// calls return the first call's result.
func (r *Root) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.active.Wait()
		r.closeErr = r.lock.Close()
	})
	return r.closeErr
}

func (r *Root) gcFile() string {
	return filepath.Join(r.dir, gcFileName)
}

// lastCleanup returns when cleanup last ran. A missing gc file is created
// with the current time: a brand new root has nothing to clean.
func (r *Root) lastCleanup() (time.Time, error) {
	info, err := os.Stat(r.gcFile())
	if err == nil {
		return info.ModTime(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return time.Time{}, fmt.Errorf("stat gc file: %w", err)
	}

	now := r.now()
	if err := r.touchGCFile(now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

func (r *Root) touchGCFile(at time.Time) error {
	f, err := os.OpenFile(r.gcFile(), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create gc file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close gc file: %w", err)
	}
	if err := os.Chtimes(r.gcFile(), at, at); err != nil {
		return fmt.Errorf("touch gc file: %w", err)
	}
	return nil
}

func (r *Root) cleanupIfDue(ctx context.Context) error {
	if r.cleanup == nil || r.cleanup.Action == nil {
		return nil
	}

	last, err := r.lastCleanup()
	if err != nil {
		return err
	}
	if !r.cleanup.Frequency.Due(last, r.now()) {
		return nil
	}

	_, _, err = r.runCleanup(ctx)
	return err
}

// runCleanup runs the cleanup action under exclusive coordination and
// records the run. Roots that share their lock only probe for exclusivity;
// if anyone is using the root the pass is skipped.
func (r *Root) runCleanup(ctx context.Context) (cleanup.Result, bool, error) {
	var (
		res cleanup.Result
		ran bool
	)
	clean := func() error {
		var err error
		res, err = r.cleanup.Action.Clean(ctx, r)
		if err != nil {
			return fmt.Errorf("clean cache %s: %w", r.displayName, err)
		}
		ran = true
		return r.touchGCFile(r.now())
	}

	if !r.mode.Shared() {
		err := r.lock.WithLock(ctx, clean)
		return res, ran, err
	}

	probe, err := r.locks.TryLock(r.dir, lock.Options{
		Mode:        lock.Exclusive,
		DisplayName: "cleanup of " + r.displayName,
	})
	if errors.Is(err, lock.ErrLocked) {
		r.logger.Info("cache in use, skipping cleanup", logfields.Root(r.dir))
		return res, false, nil
	}
	if err != nil {
		return res, false, fmt.Errorf("lock cache %s for cleanup: %w", r.displayName, err)
	}
	defer probe.Close()

	err = clean()
	return res, ran, err
}
