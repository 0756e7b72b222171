package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	defaultPollInterval    = 2 * time.Millisecond
	defaultMaxPollInterval = 100 * time.Millisecond

	// staleRetries bounds how often acquisition reopens a lock file that was
	// unlinked by its previous holder.
	staleRetries = 8
)

// ManagerOptions configures a FileManager.
type ManagerOptions struct {
	// Logger receives contention diagnostics. Defaults to discarding.
	Logger *slog.Logger

	// Recorder receives lock wait durations. Defaults to a no-op.
	Recorder metrics.Recorder

	// PollInterval is the first backoff step while waiting. Defaults to 2ms.
	PollInterval time.Duration

	// MaxPollInterval caps the backoff. Defaults to 100ms.
	MaxPollInterval time.Duration
}

// FileManager implements Manager with flock(2) on lock files.
//
// Each handle opens its own file description, so two handles in the same
// process conflict exactly like handles in different processes do.
type FileManager struct {
	owner           string
	logger          *slog.Logger
	recorder        metrics.Recorder
	pollInterval    time.Duration
	maxPollInterval time.Duration
}

// NewFileManager creates a FileManager with a fresh owner id.
func NewFileManager(opts ManagerOptions) *FileManager {
	m := &FileManager{
		owner:           uuid.NewString(),
		logger:          opts.Logger,
		recorder:        opts.Recorder,
		pollInterval:    opts.PollInterval,
		maxPollInterval: opts.MaxPollInterval,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.recorder == nil {
		m.recorder = metrics.NoopRecorder{}
	}
	if m.pollInterval <= 0 {
		m.pollInterval = defaultPollInterval
	}
	if m.maxPollInterval < m.pollInterval {
		m.maxPollInterval = max(defaultMaxPollInterval, m.pollInterval)
	}
	return m
}

// Owner returns the id this manager writes into exclusive lock files.
func (m *FileManager) Owner() string {
	return m.owner
}

// Lock implements Manager.
func (m *FileManager) Lock(ctx context.Context, target string, opts Options) (Lock, error) {
	l, err := m.newHandle(target, opts)
	if err != nil {
		return nil, err
	}
	if opts.Mode != Exclusive {
		return l, nil
	}

	f, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.pinned = true
	return l, nil
}

// TryLock implements Manager. The returned handle holds the primitive in
// the mode's kind (shared or exclusive) until Close.
func (m *FileManager) TryLock(target string, opts Options) (Lock, error) {
	l, err := m.newHandle(target, opts)
	if err != nil {
		return nil, err
	}

	f, err := l.tryAcquire()
	if err != nil {
		return nil, err
	}
	l.file = f
	l.pinned = true
	return l, nil
}

func (m *FileManager) newHandle(target string, opts Options) (*fileLock, error) {
	if !opts.Mode.IsValid() {
		return nil, fmt.Errorf("lock %s: invalid mode %v", target, opts.Mode)
	}
	if opts.DisplayName == "" {
		opts.DisplayName = target
	}

	isDir := false
	info, err := os.Stat(target)
	switch {
	case err == nil:
		isDir = info.IsDir()
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("stat lock target: %w", err)
	}

	return &fileLock{
		mgr:    m,
		target: target,
		path:   FilePath(target, isDir),
		opts:   opts,
		sem:    make(chan struct{}, 1),
	}, nil
}

// fileLock is a Lock handle backed by one lock file.
type fileLock struct {
	mgr    *FileManager
	target string
	path   string
	opts   Options

	// sem serializes OnDemandExclusive holders within this handle.
	sem chan struct{}

	mu      sync.Mutex
	file    *os.File
	holders int
	pinned  bool
	closed  bool
}

func (l *fileLock) Target() string { return l.target }
func (l *fileLock) Mode() Mode     { return l.opts.Mode }

// WithLock implements Lock.
func (l *fileLock) WithLock(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	closed, pinned := l.closed, l.pinned
	l.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if pinned {
		return fn()
	}
	if l.opts.Mode.Shared() {
		return l.withShared(ctx, fn)
	}
	return l.withExclusive(ctx, fn)
}

func (l *fileLock) withExclusive(ctx context.Context, fn func() error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", l.opts.DisplayName, ctx.Err())
	}
	defer func() { <-l.sem }()

	f, err := l.acquire(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.file = f
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.file != nil {
			l.release(l.file)
			l.file = nil
		}
	}()

	return fn()
}

func (l *fileLock) withShared(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.holders == 0 {
		f, err := l.acquire(ctx)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		l.file = f
	}
	l.holders++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.holders--
		if l.holders == 0 && l.file != nil {
			l.release(l.file)
			l.file = nil
		}
	}()

	return fn()
}

// Close implements Lock. It is safe to call more than once.
func (l *fileLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	err := l.release(l.file)
	l.file = nil
	return err
}

// acquire waits for the primitive, polling with capped backoff so that
// cancellation and the configured timeout are honoured.
func (l *fileLock) acquire(ctx context.Context) (*os.File, error) {
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.opts.Timeout, ErrTimeout)
		defer cancel()
	}

	start := time.Now()
	wait := l.mgr.pollInterval
	logged := false
	for {
		f, err := l.tryAcquire()
		if err == nil {
			l.mgr.recorder.ObserveLockWait(l.opts.Mode.String(), time.Since(start))
			return f, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}

		if !logged {
			l.mgr.logger.Debug("waiting for lock",
				logfields.Lock(l.opts.DisplayName),
				logfields.Mode(l.opts.Mode.String()),
				logfields.Path(l.path))
			logged = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock %s: %w", l.opts.DisplayName, context.Cause(ctx))
		case <-timer.C:
		}
		wait = min(wait*2, l.mgr.maxPollInterval)
	}
}

// tryAcquire takes the primitive without waiting or returns ErrLocked.
func (l *fileLock) tryAcquire() (*os.File, error) {
	how := unix.LOCK_EX
	if l.opts.Mode.Shared() {
		how = unix.LOCK_SH
	}

	for range staleRetries {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, ErrLocked
			}
			return nil, fmt.Errorf("flock %s: %w", l.path, err)
		}

		// A previous holder may have deleted the lock file along with its
		// target while we were opening it; such a lock guards nothing.
		if !l.isCurrent(f) {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			continue
		}

		if !l.opts.Mode.Shared() {
			l.writeOwner(f)
		}
		return f, nil
	}

	return nil, fmt.Errorf("lock file %s keeps disappearing: %w", l.path, os.ErrNotExist)
}

func (l *fileLock) isCurrent(f *os.File) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

func (l *fileLock) writeOwner(f *os.File) {
	owner := Owner{
		ID:         l.mgr.owner,
		PID:        os.Getpid(),
		Name:       l.opts.DisplayName,
		AcquiredAt: time.Now(),
	}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt(owner.encode(), 0)
		if err == nil {
			return
		}
	}
	l.mgr.logger.Debug("write lock owner failed", logfields.Path(l.path))
}

func (l *fileLock) release(f *os.File) error {
	if !l.opts.Mode.Shared() {
		f.Truncate(0)
	}
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.opts.DisplayName, err)
	}
	return nil
}
