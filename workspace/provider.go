package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amonks/workcache/cache"
	"github.com/amonks/workcache/cleanup"
	"github.com/amonks/workcache/history"
	"github.com/amonks/workcache/internal/keys"
	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/internal/metrics"
	"github.com/amonks/workcache/journal"
	"github.com/amonks/workcache/lock"
)

// lockAttempts bounds how often a workspace is recreated when its directory
// disappears between creation and locking.
const lockAttempts = 3

// Options configures a Provider.
type Options struct {
	// Dir is the workspace cache root. Required.
	Dir string

	// HistoryDir is the built-in history root. Defaults to Dir + "-history".
	HistoryDir string

	// Locks is the process's lock manager. Defaults to a new
	// lock.FileManager.
	Locks lock.Manager

	// Journal records workspace access times. Required. The provider does
	// not close it.
	Journal journal.Journal

	// Depth is the number of key segments. Defaults to 1.
	Depth int

	// CleanupFrequency says how often opening the provider may run cleanup.
	// The zero value runs it on every open.
	CleanupFrequency cleanup.Frequency

	// MaxAge is the retention of unused entries. Defaults to
	// cleanup.DefaultMaxAge.
	MaxAge time.Duration

	// LockTimeout bounds the wait for a busy workspace. Zero waits until
	// the context is done.
	LockTimeout time.Duration

	Logger   *slog.Logger
	Recorder metrics.Recorder

	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if o.Dir == "" {
		return o, fmt.Errorf("workspace dir is required")
	}
	if o.Journal == nil {
		return o, fmt.Errorf("access journal is required")
	}
	if o.Depth < 1 {
		o.Depth = 1
	}
	if o.MaxAge <= 0 {
		o.MaxAge = cleanup.DefaultMaxAge
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NoopRecorder{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Locks == nil {
		o.Locks = lock.NewFileManager(lock.ManagerOptions{Logger: o.Logger, Recorder: o.Recorder})
	}
	if o.HistoryDir == "" {
		o.HistoryDir = filepath.Clean(o.Dir) + "-history"
	}
	return o, nil
}

// Provider hands out workspaces below one cache root.
type Provider struct {
	root        *cache.Root
	historyRoot *cache.Root
	history     history.Store
	tracker     *journal.Tracker
	locks       lock.Manager
	depth       int
	lockTimeout time.Duration
	logger      *slog.Logger
	recorder    metrics.Recorder

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// OpenWithBuiltInHistory opens a provider whose history store lives in its
// own cache root next to the workspaces. Close closes both roots.
func OpenWithBuiltInHistory(ctx context.Context, opts Options) (*Provider, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	action := newCleanupAction(opts)

	historyRoot, err := cache.Open(ctx, cache.Options{
		Dir:         opts.HistoryDir,
		Mode:        lock.OnDemandExclusive,
		DisplayName: "workspace history",
		Locks:       opts.Locks,
		Cleanup:     &cleanup.Strategy{Action: action, Frequency: opts.CleanupFrequency},
		Logger:      opts.Logger,
		Now:         opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open history cache: %w", err)
	}

	store := history.NewFileStore(history.FileStoreOptions{
		Root:     historyRoot,
		Tracker:  journal.NewTracker(opts.Journal, historyRoot.Dir(), opts.Depth, opts.Now),
		Logger:   opts.Logger,
		Recorder: opts.Recorder,
	})

	p, err := open(ctx, opts, action, store)
	if err != nil {
		historyRoot.Close()
		return nil, err
	}
	p.historyRoot = historyRoot
	return p, nil
}

// OpenWithExternalHistory opens a provider that passes store to every
// action. The caller keeps ownership of store.
func OpenWithExternalHistory(ctx context.Context, opts Options, store history.Store) (*Provider, error) {
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return open(ctx, opts, newCleanupAction(opts), store)
}

func newCleanupAction(opts Options) *cleanup.LRU {
	return cleanup.NewLRU(cleanup.LRUOptions{
		Finder:   cleanup.SingleDepthFinder{Depth: opts.Depth},
		Journal:  opts.Journal,
		MaxAge:   opts.MaxAge,
		Locks:    opts.Locks,
		Logger:   opts.Logger,
		Recorder: opts.Recorder,
		Now:      opts.Now,
	})
}

func open(ctx context.Context, opts Options, action cleanup.Action, store history.Store) (*Provider, error) {
	root, err := cache.Open(ctx, cache.Options{
		Dir:         opts.Dir,
		Mode:        lock.OnDemandShared,
		DisplayName: "workspaces",
		Locks:       opts.Locks,
		Cleanup:     &cleanup.Strategy{Action: action, Frequency: opts.CleanupFrequency},
		Logger:      opts.Logger,
		Now:         opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace cache: %w", err)
	}

	return &Provider{
		root:        root,
		history:     store,
		tracker:     journal.NewTracker(opts.Journal, root.Dir(), opts.Depth, opts.Now),
		locks:       opts.Locks,
		depth:       opts.Depth,
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
	}, nil
}

// Dir returns the absolute workspace root.
func (p *Provider) Dir() string {
	return p.root.Dir()
}

// Depth returns the number of segments every key has.
func (p *Provider) Depth() int {
	return p.depth
}

// History returns the store passed to actions.
func (p *Provider) History() history.Store {
	return p.history
}

// Path returns the directory for key without creating or locking it.
func (p *Provider) Path(key string) (string, error) {
	if err := p.validate(key); err != nil {
		return "", err
	}
	return keys.Join(p.root.Dir(), key), nil
}

// WithWorkspace runs action with exclusive use of the workspace for key,
// creating the directory if needed. The action's error is returned as is
// once the workspace lock has been released.
func (p *Provider) WithWorkspace(ctx context.Context, key string, action func(dir string, h history.Store) error) error {
	if err := p.validate(key); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrClosed
	}

	dir := keys.Join(p.root.Dir(), key)
	return p.root.WithFileLock(ctx, func() error {
		l, created, err := p.lockEntry(ctx, key, dir)
		if err != nil {
			return err
		}
		defer l.Close()

		p.recorder.IncWorkspaceAcquired(created)
		if err := p.tracker.MarkAccessed(dir); err != nil {
			p.recorder.IncJournalWriteFailure()
			p.logger.Warn("record workspace access failed", logfields.Key(key), logfields.Error(err))
		}
		p.logger.Debug("workspace acquired", logfields.Key(key), logfields.Path(dir))

		return action(dir, p.history)
	})
}

// With is WithWorkspace for actions that produce a value.
func With[T any](ctx context.Context, p *Provider, key string, action func(dir string, h history.Store) (T, error)) (T, error) {
	var result T
	err := p.WithWorkspace(ctx, key, func(dir string, h history.Store) error {
		var err error
		result, err = action(dir, h)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// lockEntry creates dir and takes its exclusive lock. The directory is
// recreated if it vanished before the lock was held.
func (p *Provider) lockEntry(ctx context.Context, key, dir string) (lock.Lock, bool, error) {
	created := false
	for attempt := 1; ; attempt++ {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			created = true
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("create workspace %s: %w", key, err)
		}

		l, err := p.locks.Lock(ctx, dir, lock.Options{
			Mode:        lock.Exclusive,
			DisplayName: "workspace " + key,
			Timeout:     p.lockTimeout,
		})
		if err == nil {
			if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
				return l, created, nil
			}
			l.Close()
			err = fmt.Errorf("workspace %s: %w", key, fs.ErrNotExist)
		}
		if !errors.Is(err, fs.ErrNotExist) || attempt == lockAttempts {
			return nil, false, fmt.Errorf("lock workspace %s: %w", key, err)
		}
		p.logger.Debug("workspace vanished while locking, retrying", logfields.Key(key))
	}
}

// Cleanup runs a cleanup pass over the workspace root now. It returns
// ErrBusy if the root is in use.
func (p *Provider) Cleanup(ctx context.Context) (cleanup.Result, error) {
	return cleanRoot(ctx, p.root)
}

// CleanupHistory runs a cleanup pass over the built-in history root now.
// It does nothing for an external history store.
func (p *Provider) CleanupHistory(ctx context.Context) (cleanup.Result, error) {
	if p.historyRoot == nil {
		return cleanup.Result{}, nil
	}
	return cleanRoot(ctx, p.historyRoot)
}

func cleanRoot(ctx context.Context, root *cache.Root) (cleanup.Result, error) {
	res, ran, err := root.Cleanup(ctx)
	if errors.Is(err, cache.ErrClosed) {
		return res, ErrClosed
	}
	if err != nil {
		return res, err
	}
	if !ran {
		return res, ErrBusy
	}
	return res, nil
}

// Close closes the cache roots the provider opened after in-flight
// WithWorkspace calls have returned; calling it from an action deadlocks.
// It does not close the journal or an external history store. Later calls
// return the first call's result.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		// Workspace actions may still write history, so the workspace root
		// drains first.
		errs := []error{p.root.Close()}
		if p.historyRoot != nil {
			errs = append(errs, p.historyRoot.Close())
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

func (p *Provider) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Provider) validate(key string) error {
	if err := keys.Validate(key); err != nil {
		return err
	}
	if depth := keys.Depth(key); depth != p.depth {
		return fmt.Errorf("%w %q: has %d segments, want %d", ErrInvalidKey, key, depth, p.depth)
	}
	return nil
}
