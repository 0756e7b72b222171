// Package metrics defines the observability hooks of the workspace cache.
//
// Components receive a Recorder through their options and default to
// NoopRecorder, so nothing needs nil checks. PrometheusRecorder forwards to
// a caller-supplied Prometheus registry.
package metrics

import "time"

// CleanupOutcome labels what happened to one cleanup candidate.
type CleanupOutcome string

const (
	CleanupDeleted CleanupOutcome = "deleted"
	CleanupSkipped CleanupOutcome = "skipped"
	CleanupFailed  CleanupOutcome = "failed"
)

// Recorder receives cache events.
type Recorder interface {
	// ObserveLockWait records how long an acquisition in mode waited.
	ObserveLockWait(mode string, d time.Duration)
	// IncWorkspaceAcquired counts successful workspace acquisitions.
	IncWorkspaceAcquired(created bool)
	// IncJournalWriteFailure counts access journal writes that failed.
	IncJournalWriteFailure()
	// IncCleanupEntries counts cleanup candidates by outcome.
	IncCleanupEntries(root string, outcome CleanupOutcome, n int)
	// ObserveCleanupDuration records the duration of a cleanup pass.
	ObserveCleanupDuration(root string, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveLockWait(string, time.Duration)         {}
func (NoopRecorder) IncWorkspaceAcquired(bool)                     {}
func (NoopRecorder) IncJournalWriteFailure()                       {}
func (NoopRecorder) IncCleanupEntries(string, CleanupOutcome, int) {}
func (NoopRecorder) ObserveCleanupDuration(string, time.Duration)  {}
