package metrics

import (
	"fmt"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "workcache"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	lockWait         *prom.HistogramVec
	acquired         *prom.CounterVec
	journalFailures  prom.Counter
	cleanupEntries   *prom.CounterVec
	cleanupDurations *prom.HistogramVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg prom.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		lockWait: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for file locks",
			Buckets:   prom.ExponentialBuckets(0.001, 4, 8),
		}, []string{"mode"}),
		acquired: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "workspaces_acquired_total",
			Help:      "Workspaces handed to callers, by whether the directory was new",
		}, []string{"created"}),
		journalFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "journal_write_failures_total",
			Help:      "Access journal writes that failed",
		}),
		cleanupEntries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_entries_total",
			Help:      "Cleanup candidates by outcome",
		}, []string{"root", "outcome"}),
		cleanupDurations: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of cleanup passes",
			Buckets:   prom.DefBuckets,
		}, []string{"root"}),
	}

	for _, c := range []prom.Collector{pr.lockWait, pr.acquired, pr.journalFailures, pr.cleanupEntries, pr.cleanupDurations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return pr, nil
}

func (p *PrometheusRecorder) ObserveLockWait(mode string, d time.Duration) {
	p.lockWait.WithLabelValues(mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncWorkspaceAcquired(created bool) {
	p.acquired.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (p *PrometheusRecorder) IncJournalWriteFailure() {
	p.journalFailures.Inc()
}

func (p *PrometheusRecorder) IncCleanupEntries(root string, outcome CleanupOutcome, n int) {
	if n <= 0 {
		return
	}
	p.cleanupEntries.WithLabelValues(root, string(outcome)).Add(float64(n))
}

func (p *PrometheusRecorder) ObserveCleanupDuration(root string, d time.Duration) {
	p.cleanupDurations.WithLabelValues(root).Observe(d.Seconds())
}
