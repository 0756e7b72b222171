// Package journal records when cached entries were last used.
//
// A Journal maps a tracked path to its last access time. Writes are
// monotonic: a timestamp older than the stored one is ignored, so concurrent
// writers cannot move an entry back in time. A missing entry means
// "unknown"; readers fall back to the entry's modification time.
//
// Timestamps are kept at millisecond precision.
package journal

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Journal is a persistent path -> last access time mapping.
type Journal interface {
	// Record stores t for path if t is after the stored value.
	Record(path string, t time.Time) error

	// Lookup returns the stored time for path and whether one exists.
	Lookup(path string) (time.Time, bool, error)

	// Forget removes the entry for path.
	Forget(path string) error

	Close() error
}

// Tracker marks entries of one cache root as accessed. Any path below the
// base is normalized to its ancestor exactly depth levels down, so the
// journal holds one entry per tracked entry no matter which file inside it
// was touched.
type Tracker struct {
	journal Journal
	base    string
	depth   int
	now     func() time.Time
}

// NewTracker creates a Tracker for entries depth levels below baseDir.
// A depth below 1 is treated as 1. A nil now uses time.Now.
func NewTracker(j Journal, baseDir string, depth int, now func() time.Time) *Tracker {
	if depth < 1 {
		depth = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		journal: j,
		base:    filepath.Clean(baseDir),
		depth:   depth,
		now:     now,
	}
}

// Depth returns the tracked depth.
func (t *Tracker) Depth() int {
	return t.depth
}

// MarkAccessed records the current time for the tracked entry containing
// path. Paths outside the base or above the tracked depth are ignored.
func (t *Tracker) MarkAccessed(path string) error {
	entry, ok := t.Normalize(path)
	if !ok {
		return nil
	}
	if err := t.journal.Record(entry, t.now()); err != nil {
		return fmt.Errorf("mark %s accessed: %w", entry, err)
	}
	return nil
}

// Normalize maps path to the tracked entry that contains it.
func (t *Tracker) Normalize(path string) (string, bool) {
	rel, err := filepath.Rel(t.base, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < t.depth {
		return "", false
	}
	return filepath.Join(append([]string{t.base}, parts[:t.depth]...)...), true
}

// Forget drops the journal entry for the tracked entry containing path.
func (t *Tracker) Forget(path string) error {
	entry, ok := t.Normalize(path)
	if !ok {
		return nil
	}
	if err := t.journal.Forget(entry); err != nil {
		return fmt.Errorf("forget %s: %w", entry, err)
	}
	return nil
}

// Journal returns the underlying journal.
func (t *Tracker) Journal() Journal {
	return t.journal
}
