// Package paths resolves the default on-disk locations of the workspace cache.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "workcache"

// HomeDir returns the current user's home directory.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return home, nil
}

// DefaultStateDir returns the default workcache state directory.
func DefaultStateDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".local", "state", appName), nil
}

// DefaultWorkspacesDir returns the default workspace cache root.
func DefaultWorkspacesDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".local", "share", appName, "workspaces"), nil
}

// DefaultJournalPath returns the default access journal database.
func DefaultJournalPath() (string, error) {
	stateDir, err := DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "journal.db"), nil
}

// GlobalConfigPath returns the per-user config file.
func GlobalConfigPath() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// HistoryDir returns the built-in history root for a workspace root.
func HistoryDir(workspacesDir string) string {
	return filepath.Clean(workspacesDir) + "-history"
}

// ExpandHome replaces a leading "~" with the home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
