// Package logfields holds canonical slog attribute keys so log lines from
// different packages can be correlated.
package logfields

import (
	"log/slog"
	"time"
)

const (
	KeyKey        = "key"
	KeyPath       = "path"
	KeyRoot       = "root"
	KeyLock       = "lock"
	KeyMode       = "mode"
	KeyPID        = "pid"
	KeyAge        = "age"
	KeyDurationMS = "duration_ms"
	KeyScanned    = "scanned"
	KeyDeleted    = "deleted"
	KeySkipped    = "skipped"
	KeyFailed     = "failed"
	KeyError      = "error"
)

func Key(key string) slog.Attr      { return slog.String(KeyKey, key) }
func Path(path string) slog.Attr    { return slog.String(KeyPath, path) }
func Root(dir string) slog.Attr     { return slog.String(KeyRoot, dir) }
func Lock(name string) slog.Attr    { return slog.String(KeyLock, name) }
func Mode(mode string) slog.Attr    { return slog.String(KeyMode, mode) }
func PID(pid int) slog.Attr         { return slog.Int(KeyPID, pid) }
func Age(d time.Duration) slog.Attr { return slog.Duration(KeyAge, d) }

// Duration reports d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

// Counts groups the tallies of a cleanup pass.
func Counts(scanned, deleted, skipped, failed int) []any {
	return []any{
		slog.Int(KeyScanned, scanned),
		slog.Int(KeyDeleted, deleted),
		slog.Int(KeySkipped, skipped),
		slog.Int(KeyFailed, failed),
	}
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
