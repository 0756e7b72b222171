// Package keys validates cache entry keys.
package keys

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid key")

// Validate checks that key is a non-empty relative path of "/"-separated
// segments that stays below whatever directory it is joined to.
func Validate(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalid)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w %q: contains NUL", ErrInvalid, key)
	case strings.Contains(key, `\`):
		return fmt.Errorf("%w %q: contains a backslash", ErrInvalid, key)
	case strings.HasPrefix(key, "/") || filepath.IsAbs(key):
		return fmt.Errorf("%w %q: absolute path", ErrInvalid, key)
	}

	for _, segment := range strings.Split(key, "/") {
		switch segment {
		case "":
			return fmt.Errorf("%w %q: empty segment", ErrInvalid, key)
		case ".", "..":
			return fmt.Errorf("%w %q: %q segment", ErrInvalid, key, segment)
		}
	}
	return nil
}

// Depth returns the number of segments in a valid key.
func Depth(key string) int {
	return strings.Count(key, "/") + 1
}

// Join returns the path of key below base.
func Join(base, key string) string {
	return filepath.Join(base, filepath.FromSlash(key))
}
