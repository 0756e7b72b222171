package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/amonks/workcache/cache"
	"github.com/amonks/workcache/internal/keys"
	"github.com/amonks/workcache/internal/logfields"
	"github.com/amonks/workcache/internal/metrics"
	"github.com/amonks/workcache/journal"
)

const recordFileName = "record.bin"

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Root is the history cache root. Required.
	Root *cache.Root

	// Tracker marks records accessed so the root's cleanup keeps them while
	// they are in use. Optional.
	Tracker *journal.Tracker

	Logger   *slog.Logger
	Recorder metrics.Recorder
}

// FileStore keeps one record file per key below a cache root. Every
// operation runs inside the root's coordination lock.
type FileStore struct {
	root     *cache.Root
	tracker  *journal.Tracker
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewFileStore creates a FileStore.
func NewFileStore(opts FileStoreOptions) *FileStore {
	s := &FileStore{
		root:     opts.Root,
		tracker:  opts.Tracker,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.recorder == nil {
		s.recorder = metrics.NoopRecorder{}
	}
	return s
}

// Dir returns the directory records are stored under.
func (s *FileStore) Dir() string {
	return s.root.Dir()
}

// Load implements Store.
func (s *FileStore) Load(key string) (Record, bool, error) {
	if err := keys.Validate(key); err != nil {
		return Record{}, false, err
	}

	var (
		rec   Record
		found bool
	)
	err := s.root.WithFileLock(context.Background(), func() error {
		data, err := os.ReadFile(s.path(key))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read history record: %w", err)
		}
		rec, err = Decode(data)
		if err != nil {
			return err
		}
		found = true
		s.markAccessed(key)
		return nil
	})
	return rec, found, err
}

// Store implements Store. The record file is replaced atomically.
func (s *FileStore) Store(key string, rec Record) error {
	if err := keys.Validate(key); err != nil {
		return err
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	return s.root.WithFileLock(context.Background(), func() error {
		dir := keys.Join(s.root.Dir(), key)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}

		tmp, err := os.CreateTemp(dir, recordFileName+".*.tmp")
		if err != nil {
			return fmt.Errorf("create history temp file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("write history record: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("close history record: %w", err)
		}
		if err := os.Rename(tmpName, s.path(key)); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("rename history record: %w", err)
		}

		s.markAccessed(key)
		return nil
	})
}

// Remove implements Store.
func (s *FileStore) Remove(key string) error {
	if err := keys.Validate(key); err != nil {
		return err
	}

	return s.root.WithFileLock(context.Background(), func() error {
		dir := keys.Join(s.root.Dir(), key)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove history record: %w", err)
		}
		if s.tracker != nil {
			if err := s.tracker.Forget(dir); err != nil {
				s.logger.Warn("forget history record failed", logfields.Key(key), logfields.Error(err))
			}
		}
		return nil
	})
}

func (s *FileStore) path(key string) string {
	return filepath.Join(keys.Join(s.root.Dir(), key), recordFileName)
}

func (s *FileStore) markAccessed(key string) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.MarkAccessed(s.path(key)); err != nil {
		s.recorder.IncJournalWriteFailure()
		s.logger.Warn("record history access failed", logfields.Key(key), logfields.Error(err))
	}
}
