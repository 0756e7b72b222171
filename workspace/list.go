package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amonks/workcache/cleanup"
	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/lock"
)

// Info describes a workspace on disk.
type Info struct {
	Key  string
	Path string

	// LastAccess is the journal's last access time, or the modification
	// time when the journal has none.
	LastAccess time.Time

	// Journaled reports whether LastAccess came from the journal.
	Journaled bool

	// InUse reports whether another caller held the workspace while it was
	// listed.
	InUse bool
}

// List returns the workspaces below the root, sorted by key.
func (p *Provider) List(ctx context.Context) ([]Info, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	var infos []Info
	err := p.root.WithFileLock(ctx, func() error {
		entries, err := cleanup.SingleDepthFinder{Depth: p.depth}.Find(p.root.Dir(), p.root.IsReserved)
		if err != nil {
			return fmt.Errorf("list workspaces: %w", err)
		}

		for _, entry := range entries {
			info, err := os.Lstat(entry)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return fmt.Errorf("stat workspace: %w", err)
			}
			if !info.IsDir() {
				continue
			}

			rel, err := filepath.Rel(p.root.Dir(), entry)
			if err != nil {
				return fmt.Errorf("list workspaces: %w", err)
			}

			last, journaled, err := cleanup.EffectiveLastAccess(p.tracker.Journal(), entry, info)
			if err != nil {
				p.logger.Warn("read access time failed", logfields.Path(entry), logfields.Error(err))
			}

			infos = append(infos, Info{
				Key:        filepath.ToSlash(rel),
				Path:       entry,
				LastAccess: last,
				Journaled:  journaled,
				InUse:      p.inUse(entry),
			})
		}
		return nil
	})
	return infos, err
}

// inUse probes the workspace lock without waiting. A workspace without a
// lock file has never been held, and probing it would create one and bump
// the directory's modification time.
func (p *Provider) inUse(dir string) bool {
	if _, err := os.Lstat(lock.FilePath(dir, true)); err != nil {
		return false
	}
	probe, err := p.locks.TryLock(dir, lock.Options{Mode: lock.Exclusive, DisplayName: "workspace listing"})
	if err != nil {
		return errors.Is(err, lock.ErrLocked)
	}
	probe.Close()
	return false
}
