// Package cleanup evicts cache entries that have not been used recently.
//
// A cleanup pass is composed of three parts that can be replaced
// independently: a [Finder] that lists candidate entries, a journal of last
// access times, and a retention threshold. [LRU] combines them; [Strategy]
// pairs an action with a [Frequency] so cache roots know when to run it.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/internal/metrics"
	"github.com/amonks/workcache/journal"
	"github.com/amonks/workcache/lock"
)

// DefaultMaxAge is the retention used when none is configured.
const DefaultMaxAge = 7 * 24 * time.Hour

// Cleanable is a cache root as seen by a cleanup action.
type Cleanable interface {
	Dir() string
	IsReserved(path string) bool
}

// Action removes stale entries from a cache root.
type Action interface {
	Clean(ctx context.Context, store Cleanable) (Result, error)
}

// Strategy pairs a cleanup action with how often it may run.
type Strategy struct {
	Action    Action
	Frequency Frequency
}

// Result tallies one cleanup pass.
type Result struct {
	Scanned int
	Deleted int
	Skipped int
	Failed  int
}

// LRUOptions configures an LRU cleanup action.
type LRUOptions struct {
	// Finder lists candidates. Defaults to SingleDepthFinder{Depth: 1}.
	Finder Finder

	// Journal supplies last access times. Required.
	Journal journal.Journal

	// MaxAge is the longest an entry may go unused. Defaults to DefaultMaxAge.
	MaxAge time.Duration

	// Locks probes entries before deletion. Required.
	Locks lock.Manager

	Logger   *slog.Logger
	Recorder metrics.Recorder

	// Now defaults to time.Now.
	Now func() time.Time
}

// LRU deletes entries whose last access is older than MaxAge. Entries that
// are locked by someone else are skipped, never waited for.
type LRU struct {
	finder   Finder
	journal  journal.Journal
	maxAge   time.Duration
	locks    lock.Manager
	logger   *slog.Logger
	recorder metrics.Recorder
	now      func() time.Time
}

// NewLRU creates an LRU cleanup action.
func NewLRU(opts LRUOptions) *LRU {
	c := &LRU{
		finder:   opts.Finder,
		journal:  opts.Journal,
		maxAge:   opts.MaxAge,
		locks:    opts.Locks,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      opts.Now,
	}
	if c.finder == nil {
		c.finder = SingleDepthFinder{Depth: 1}
	}
	if c.maxAge <= 0 {
		c.maxAge = DefaultMaxAge
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.recorder == nil {
		c.recorder = metrics.NoopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// MaxAge returns the retention threshold.
func (c *LRU) MaxAge() time.Duration {
	return c.maxAge
}

// Clean implements Action. A single entry that cannot be deleted is logged
// and counted; the pass carries on with the remaining entries.
func (c *LRU) Clean(ctx context.Context, store Cleanable) (Result, error) {
	start := c.now()
	base := store.Dir()

	entries, err := c.finder.Find(base, store.IsReserved)
	if err != nil {
		return Result{}, fmt.Errorf("find cleanup candidates: %w", err)
	}

	cutoff := start.Add(-c.maxAge)
	var res Result
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		info, err := os.Lstat(entry)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				c.logger.Warn("stat cleanup candidate failed", logfields.Path(entry), logfields.Error(err))
				res.Failed++
			}
			continue
		}

		lastAccess, _, err := EffectiveLastAccess(c.journal, entry, info)
		if err != nil {
			c.logger.Warn("read access time failed, using modification time",
				logfields.Path(entry), logfields.Error(err))
		}
		if !lastAccess.Before(cutoff) {
			continue
		}

		switch c.deleteEntry(base, entry, info, start.Sub(lastAccess)) {
		case metrics.CleanupDeleted:
			res.Deleted++
		case metrics.CleanupSkipped:
			res.Skipped++
		case metrics.CleanupFailed:
			res.Failed++
		}
	}

	elapsed := c.now().Sub(start)
	c.recorder.IncCleanupEntries(base, metrics.CleanupDeleted, res.Deleted)
	c.recorder.IncCleanupEntries(base, metrics.CleanupSkipped, res.Skipped)
	c.recorder.IncCleanupEntries(base, metrics.CleanupFailed, res.Failed)
	c.recorder.ObserveCleanupDuration(base, elapsed)

	attrs := append([]any{logfields.Root(base), logfields.Duration(elapsed)},
		logfields.Counts(res.Scanned, res.Deleted, res.Skipped, res.Failed)...)
	c.logger.Info("cleanup finished", attrs...)

	return res, nil
}

func (c *LRU) deleteEntry(base, entry string, info os.FileInfo, age time.Duration) metrics.CleanupOutcome {
	probe, err := c.locks.TryLock(entry, lock.Options{
		Mode:        lock.Exclusive,
		DisplayName: "cleanup of " + filepath.Base(entry),
	})
	if errors.Is(err, lock.ErrLocked) {
		attrs := []any{logfields.Path(entry), logfields.Age(age)}
		if owner, ok, _ := lock.ReadOwner(lock.FilePath(entry, info.IsDir())); ok {
			attrs = append(attrs, logfields.PID(owner.PID), logfields.Lock(owner.Name))
		}
		c.logger.Info("skipping stale entry in use", attrs...)
		return metrics.CleanupSkipped
	}
	if err != nil {
		c.logger.Warn("lock stale entry failed", logfields.Path(entry), logfields.Error(err))
		return metrics.CleanupFailed
	}
	defer probe.Close()

	if err := os.RemoveAll(entry); err != nil {
		c.logger.Warn("delete stale entry failed", logfields.Path(entry), logfields.Error(err))
		return metrics.CleanupFailed
	}
	if !info.IsDir() {
		os.Remove(lock.FilePath(entry, false))
	}
	if err := c.journal.Forget(entry); err != nil {
		c.logger.Warn("forget access time failed", logfields.Path(entry), logfields.Error(err))
	}
	pruneEmptyParents(base, entry)

	c.logger.Debug("deleted stale entry", logfields.Path(entry), logfields.Age(age))
	return metrics.CleanupDeleted
}

// pruneEmptyParents removes directories between entry and base that the
// deletion left empty.
func pruneEmptyParents(base, entry string) {
	base = filepath.Clean(base)
	for dir := filepath.Dir(entry); dir != base && len(dir) > len(base); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// EffectiveLastAccess returns the journal's last access time for path,
// falling back to the modification time in info. The bool reports whether
// the journal had an entry. A journal error also falls back and is returned.
func EffectiveLastAccess(j journal.Journal, path string, info os.FileInfo) (time.Time, bool, error) {
	at, ok, err := j.Lookup(path)
	if err != nil {
		return info.ModTime(), false, err
	}
	if !ok {
		return info.ModTime(), false, nil
	}
	return at, true, nil
}
