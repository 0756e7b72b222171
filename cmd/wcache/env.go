package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/amonks/workcache/internal/config"
	"github.com/amonks/workcache/internal/metrics"
	"github.com/amonks/workcache/internal/validation"
	"github.com/amonks/workcache/journal"
	"github.com/amonks/workcache/workspace"
	"github.com/prometheus/client_golang/prometheus"
)

var errInvalidLogFormat = errors.New("invalid log format")

// cacheEnv is everything a command needs to work with the cache.
type cacheEnv struct {
	settings config.Settings
	logger   *slog.Logger
	registry *prometheus.Registry
	journal  journal.Journal
	provider *workspace.Provider
}

// openOptions adjusts settings before the provider is opened.
type openOptions struct {
	retention time.Duration
}

func openCache(ctx context.Context, opts openOptions) (*cacheEnv, error) {
	logger, err := newLogger(rootLogFormat, rootVerbose)
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		cfg.Cache.Dir = rootDir
		cfg.Cache.HistoryDir = ""
	}
	settings, err := cfg.Resolve(cwd)
	if err != nil {
		return nil, err
	}
	if opts.retention > 0 {
		settings.Retention = opts.retention
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		return nil, err
	}

	j, err := openJournal(settings)
	if err != nil {
		return nil, err
	}

	provider, err := workspace.OpenWithBuiltInHistory(ctx, workspace.Options{
		Dir:              settings.Dir,
		HistoryDir:       settings.HistoryDir,
		Journal:          j,
		Depth:            settings.TrackedDepth,
		CleanupFrequency: settings.CleanupFrequency,
		MaxAge:           settings.Retention,
		LockTimeout:      settings.LockTimeout,
		Logger:           logger,
		Recorder:         recorder,
	})
	if err != nil {
		j.Close()
		return nil, err
	}

	return &cacheEnv{
		settings: settings,
		logger:   logger,
		registry: registry,
		journal:  j,
		provider: provider,
	}, nil
}

func (e *cacheEnv) Close() error {
	return errors.Join(e.provider.Close(), e.journal.Close())
}

func openJournal(settings config.Settings) (journal.Journal, error) {
	switch settings.JournalBackend {
	case config.BackendFile:
		return journal.NewFile(settings.JournalPath), nil
	default:
		j, err := journal.OpenSQLite(settings.JournalPath)
		if err != nil {
			return nil, err
		}
		return j, nil
	}
}

func newLogger(format string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, validation.FormatInvalidValueError(errInvalidLogFormat, format, []string{"text", "json"})
	}
}
