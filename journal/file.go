package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// File is a Journal kept in a JSON document. Every operation takes an
// exclusive flock on a sibling lock file, so several processes may share it.
type File struct {
	dir string
}

// document is the persisted form of a File journal.
type document struct {
	Entries map[string]int64 `json:"entries"`
}

// NewFile creates a File journal stored in dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) documentPath() string {
	return filepath.Join(f.dir, "journal.json")
}

func (f *File) lockPath() string {
	return filepath.Join(f.dir, "journal.lock")
}

// Record implements Journal.
func (f *File) Record(path string, t time.Time) error {
	return f.update(func(doc *document) (bool, error) {
		millis := t.UnixMilli()
		if existing, ok := doc.Entries[path]; ok && existing >= millis {
			return false, nil
		}
		doc.Entries[path] = millis
		return true, nil
	})
}

// Lookup implements Journal.
func (f *File) Lookup(path string) (time.Time, bool, error) {
	var (
		millis int64
		found  bool
	)
	err := f.update(func(doc *document) (bool, error) {
		millis, found = doc.Entries[path]
		return false, nil
	})
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return time.UnixMilli(millis), true, nil
}

// Forget implements Journal.
func (f *File) Forget(path string) error {
	return f.update(func(doc *document) (bool, error) {
		if _, ok := doc.Entries[path]; !ok {
			return false, nil
		}
		delete(doc.Entries, path)
		return true, nil
	})
}

// Close implements Journal. Every write is already on disk.
func (f *File) Close() error {
	return nil
}

// load reads the document. Returns an empty document if the file doesn't exist.
func (f *File) load() (*document, error) {
	data, err := os.ReadFile(f.documentPath())
	if os.IsNotExist(err) {
		return &document{Entries: make(map[string]int64)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]int64)
	}
	return &doc, nil
}

// save writes the document atomically via a temp file.
func (f *File) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	tmpFile, err := os.CreateTemp(f.dir, filepath.Base(f.documentPath())+".tmp")
	if err != nil {
		return fmt.Errorf("create temp journal file: %w", err)
	}
	name := tmpFile.Name()
	_, err = tmpFile.Write(data)
	if err1 := tmpFile.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("write temp journal file: %w", err)
	}

	if err := os.Rename(name, f.documentPath()); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename journal file: %w", err)
	}
	return nil
}

// update loads the document under the lock, applies fn, and saves it if fn
// reports a change.
func (f *File) update(fn func(doc *document) (bool, error)) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	lockFile, err := os.OpenFile(f.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	doc, err := f.load()
	if err != nil {
		return err
	}

	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}
	return f.save(doc)
}
