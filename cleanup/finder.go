package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Finder enumerates the entries of a cache root that cleanup may consider.
type Finder interface {
	// Find returns entries below baseDir. Paths for which skip returns true
	// are neither returned nor descended into.
	Find(baseDir string, skip func(path string) bool) ([]string, error)
}

// SingleDepthFinder finds entries exactly Depth levels below the base.
// A Depth below 1 is treated as 1.
type SingleDepthFinder struct {
	Depth int
}

// Find implements Finder.
func (f SingleDepthFinder) Find(baseDir string, skip func(path string) bool) ([]string, error) {
	depth := max(f.Depth, 1)
	if skip == nil {
		skip = func(string) bool { return false }
	}

	var found []string
	var walk func(dir string, level int) error
	walk = func(dir string, level int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) && level > 1 {
				return nil
			}
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if skip(path) {
				continue
			}
			if level == depth {
				found = append(found, path)
				continue
			}
			if entry.IsDir() {
				if err := walk(path, level+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(baseDir, 1); err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
