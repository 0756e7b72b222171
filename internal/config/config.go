// Package config handles loading workcache.toml configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/amonks/workcache/cleanup"
	"github.com/amonks/workcache/internal/paths"
	"github.com/amonks/workcache/internal/validation"
)

// ProjectFileName is the per-project config file.
const ProjectFileName = "workcache.toml"

// Journal backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// ErrInvalidBackend is returned for an unknown journal backend.
var ErrInvalidBackend = errors.New("invalid journal backend")

// Config represents the workcache.toml configuration file.
type Config struct {
	Cache   Cache   `toml:"cache"`
	Journal Journal `toml:"journal"`
}

// Cache contains cache root configuration.
type Cache struct {
	// Dir is the workspace cache root.
	Dir string `toml:"dir"`

	// HistoryDir is the built-in history root. Defaults to Dir-history.
	HistoryDir string `toml:"history-dir"`

	// TrackedDepth is the number of key segments.
	TrackedDepth int `toml:"tracked-depth"`

	// CleanupFrequency is "always", "never", "daily", or a duration.
	CleanupFrequency string `toml:"cleanup-frequency"`

	// Retention is how long an unused entry is kept, e.g. "7d".
	Retention string `toml:"retention"`

	// LockTimeout bounds the wait for a busy workspace. "0s" waits forever.
	LockTimeout string `toml:"lock-timeout"`
}

// Journal contains access journal configuration.
type Journal struct {
	// Backend is "sqlite" or "file".
	Backend string `toml:"backend"`

	// Path is the database file for sqlite or the directory for file.
	Path string `toml:"path"`
}

// Load loads configuration from projectDir and the global config file.
// Returns an empty config if no config files exist.
func Load(projectDir string) (*Config, error) {
	globalPath, err := paths.GlobalConfigPath()
	if err != nil {
		return nil, err
	}

	globalCfg, globalMeta, err := loadConfigFile(globalPath)
	if err != nil {
		return nil, err
	}

	projectCfg, projectMeta, err := loadConfigFile(filepath.Join(projectDir, ProjectFileName))
	if err != nil {
		return nil, err
	}

	return mergeConfigs(globalCfg, projectCfg, globalMeta, projectMeta), nil
}

func loadConfigFile(path string) (*Config, toml.MetaData, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, toml.MetaData{}, nil
	}
	if err != nil {
		return nil, toml.MetaData{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, toml.MetaData{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, toml.MetaData{}, fmt.Errorf("parse config file %s: unknown key %s", path, undecoded[0])
	}

	return &cfg, meta, nil
}

func mergeConfigs(globalCfg, projectCfg *Config, globalMeta, projectMeta toml.MetaData) *Config {
	if globalCfg == nil {
		globalCfg = &Config{}
	}
	if projectCfg == nil {
		projectCfg = &Config{}
	}

	merged := Config{}
	merged.Cache.Dir = mergeString(projectMeta.IsDefined("cache", "dir"), projectCfg.Cache.Dir, globalCfg.Cache.Dir)
	merged.Cache.HistoryDir = mergeString(projectMeta.IsDefined("cache", "history-dir"), projectCfg.Cache.HistoryDir, globalCfg.Cache.HistoryDir)
	merged.Cache.CleanupFrequency = mergeString(projectMeta.IsDefined("cache", "cleanup-frequency"), projectCfg.Cache.CleanupFrequency, globalCfg.Cache.CleanupFrequency)
	merged.Cache.Retention = mergeString(projectMeta.IsDefined("cache", "retention"), projectCfg.Cache.Retention, globalCfg.Cache.Retention)
	merged.Cache.LockTimeout = mergeString(projectMeta.IsDefined("cache", "lock-timeout"), projectCfg.Cache.LockTimeout, globalCfg.Cache.LockTimeout)
	merged.Journal.Backend = mergeString(projectMeta.IsDefined("journal", "backend"), projectCfg.Journal.Backend, globalCfg.Journal.Backend)
	merged.Journal.Path = mergeString(projectMeta.IsDefined("journal", "path"), projectCfg.Journal.Path, globalCfg.Journal.Path)
	if projectMeta.IsDefined("cache", "tracked-depth") {
		merged.Cache.TrackedDepth = projectCfg.Cache.TrackedDepth
	} else if globalMeta.IsDefined("cache", "tracked-depth") {
		merged.Cache.TrackedDepth = globalCfg.Cache.TrackedDepth
	}

	return &merged
}

func mergeString(projectDefined bool, projectValue, globalValue string) string {
	value := globalValue
	if projectDefined {
		value = projectValue
	}
	return strings.TrimSpace(value)
}

// Settings is a Config with defaults applied and values parsed.
type Settings struct {
	Dir              string
	HistoryDir       string
	TrackedDepth     int
	CleanupFrequency cleanup.Frequency
	Retention        time.Duration
	LockTimeout      time.Duration
	JournalBackend   string
	JournalPath      string
}

// Resolve applies defaults and parses durations. Relative paths are
// resolved against baseDir.
func (c *Config) Resolve(baseDir string) (Settings, error) {
	s := Settings{
		TrackedDepth:     1,
		CleanupFrequency: cleanup.Daily,
		Retention:        cleanup.DefaultMaxAge,
		JournalBackend:   BackendSQLite,
	}

	var err error
	if s.Dir, err = resolvePath(c.Cache.Dir, baseDir, paths.DefaultWorkspacesDir); err != nil {
		return Settings{}, fmt.Errorf("cache dir: %w", err)
	}
	s.HistoryDir = paths.HistoryDir(s.Dir)
	if c.Cache.HistoryDir != "" {
		if s.HistoryDir, err = resolvePath(c.Cache.HistoryDir, baseDir, nil); err != nil {
			return Settings{}, fmt.Errorf("cache history-dir: %w", err)
		}
	}

	if c.Cache.TrackedDepth != 0 {
		if c.Cache.TrackedDepth < 1 {
			return Settings{}, fmt.Errorf("cache tracked-depth must be at least 1, got %d", c.Cache.TrackedDepth)
		}
		s.TrackedDepth = c.Cache.TrackedDepth
	}
	if c.Cache.CleanupFrequency != "" {
		if s.CleanupFrequency, err = cleanup.ParseFrequency(c.Cache.CleanupFrequency); err != nil {
			return Settings{}, fmt.Errorf("cache cleanup-frequency: %w", err)
		}
	}
	if c.Cache.Retention != "" {
		if s.Retention, err = cleanup.ParseDuration(c.Cache.Retention); err != nil {
			return Settings{}, fmt.Errorf("cache retention: %w", err)
		}
		if s.Retention == 0 {
			return Settings{}, fmt.Errorf("cache retention must be positive")
		}
	}
	if c.Cache.LockTimeout != "" {
		if s.LockTimeout, err = cleanup.ParseDuration(c.Cache.LockTimeout); err != nil {
			return Settings{}, fmt.Errorf("cache lock-timeout: %w", err)
		}
	}

	switch backend := strings.ToLower(c.Journal.Backend); backend {
	case "", BackendSQLite:
		s.JournalBackend = BackendSQLite
	case BackendFile:
		s.JournalBackend = BackendFile
	default:
		return Settings{}, validation.FormatInvalidValueError(ErrInvalidBackend, c.Journal.Backend, []string{BackendSQLite, BackendFile})
	}

	defaultJournal := paths.DefaultJournalPath
	if s.JournalBackend == BackendFile {
		defaultJournal = func() (string, error) {
			stateDir, err := paths.DefaultStateDir()
			return filepath.Join(stateDir, "journal"), err
		}
	}
	if s.JournalPath, err = resolvePath(c.Journal.Path, baseDir, defaultJournal); err != nil {
		return Settings{}, fmt.Errorf("journal path: %w", err)
	}

	return s, nil
}

func resolvePath(value, baseDir string, fallback func() (string, error)) (string, error) {
	if value == "" {
		return fallback()
	}
	expanded, err := paths.ExpandHome(value)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(baseDir, expanded)
	}
	return filepath.Clean(expanded), nil
}
