// Package metrics defines the prometheus collectors reported by a run and
// pushes them to a Pushgateway when one is configured.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "funnelstats"

// Label names.
const (
	LabelJob    = "job"
	LabelMode   = "mode"
	LabelReason = "reason"
)

// Collectors groups every metric a run reports. A nil *Collectors is valid
// and records nothing.
type Collectors struct {
	PartitionsSelected  prometheus.Counter
	PartitionsPruned    prometheus.Counter
	EventsScanned       prometheus.Counter
	SessionsOfInterest  *prometheus.GaugeVec
	RowsWritten         *prometheus.CounterVec
	IgnoredErrors       *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	PartitionsCompacted prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c, err := NewWithRegistry(reg, reg)
	if err != nil {
		// a fresh registry never holds duplicates
		panic(err)
	}
	return c
}

// NewWithRegistry creates the collectors and registers them on reg.
// gatherer is used by Push and may be nil when pushing is not needed.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Collectors, error) {
	c := &Collectors{
		PartitionsSelected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_selected_total",
			Help:      "Total number of partitions selected for scanning",
		}),
		PartitionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_pruned_total",
			Help:      "Total number of partitions skipped by action bloom filters",
		}),
		EventsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_scanned_total",
			Help:      "Total number of events read from partitions",
		}),
		SessionsOfInterest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_of_interest",
			Help:      "Number of sessions that started on the data day",
		}, []string{LabelJob}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Total number of aggregate rows written",
		}, []string{LabelJob, LabelMode}),
		IgnoredErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_errors_total",
			Help:      "Total number of write errors ignored as known driver quirks",
		}, []string{LabelReason}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a daily run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		PartitionsCompacted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_compacted_total",
			Help:      "Total number of partitions replaced by compaction",
		}),
		gatherer: gatherer,
	}

	for _, collector := range []prometheus.Collector{
		c.PartitionsSelected, c.PartitionsPruned, c.EventsScanned,
		c.SessionsOfInterest, c.RowsWritten, c.IgnoredErrors, c.RunDuration,
		c.PartitionsCompacted,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("metrics: failed to register collector: %w", err)
		}
	}
	return c, nil
}

// ObservePlan records the partitions selected and pruned by a plan.
func (c *Collectors) ObservePlan(selected, pruned int) {
	if c == nil {
		return
	}
	c.PartitionsSelected.Add(float64(selected))
	c.PartitionsPruned.Add(float64(pruned))
}

// ObserveScan records the number of events read.
func (c *Collectors) ObserveScan(events int) {
	if c == nil {
		return
	}
	c.EventsScanned.Add(float64(events))
}

// ObserveSessions sets the sessions-of-interest gauge for a job.
func (c *Collectors) ObserveSessions(job string, sessions int) {
	if c == nil {
		return
	}
	c.SessionsOfInterest.WithLabelValues(job).Set(float64(sessions))
}

// ObserveRows records rows written for a job.
func (c *Collectors) ObserveRows(job, mode string, rows int) {
	if c == nil {
		return
	}
	c.RowsWritten.WithLabelValues(job, mode).Add(float64(rows))
}

// IgnoredError records an error swallowed for reason.
func (c *Collectors) IgnoredError(reason string) {
	if c == nil {
		return
	}
	c.IgnoredErrors.WithLabelValues(reason).Inc()
}

// ObserveRunDuration records the wall time of a run in seconds.
func (c *Collectors) ObserveRunDuration(seconds float64) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(seconds)
}

// ObserveCompaction records partitions replaced by compaction.
func (c *Collectors) ObserveCompaction(replaced int) {
	if c == nil {
		return
	}
	c.PartitionsCompacted.Add(float64(replaced))
}

// Push sends every gathered metric to the Pushgateway at url under job.
func (c *Collectors) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	if c.gatherer == nil {
		return fmt.Errorf("metrics: no gatherer configured for push")
	}
	if err := push.New(url, job).Gatherer(c.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s failed: %w", url, err)
	}
	return nil
}
