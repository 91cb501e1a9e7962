// Package planner turns a data day into the set of partitions a daily run
// must scan.
package planner

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/metrics"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// CompletionGrace is how long past the end of the data day a session may
// keep producing events that count toward it.
const CompletionGrace = time.Hour

// Window is the scan window of a daily run.
type Window struct {
	// DataDay is the day whose sessions are aggregated.
	DataDay civil.Date

	// Start and End bound the partitions scanned, one day either side of
	// DataDay so sessions that straddle midnight are seen whole.
	Start civil.Date
	End   civil.Date

	// Cutoff is the exclusive upper bound on event timestamps.
	Cutoff time.Time
}

// DailyWindow returns the window for day.
func DailyWindow(day civil.Date) Window {
	next := day.AddDays(1)
	return Window{
		DataDay: day,
		Start:   day.AddDays(-1),
		End:     next,
		Cutoff:  next.In(time.UTC).Add(CompletionGrace),
	}
}

// Days lists every day from Start to End inclusive.
func (w Window) Days() []civil.Date {
	var days []civil.Date
	for d := w.Start; !d.After(w.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Plan is the scan plan for one data day.
type Plan struct {
	Window Window

	// Predicate is the partition predicate for the window.
	Predicate partition.Predicate

	// Partitions is the list of partitions to scan after pruning.
	Partitions []*manifest.PartitionRecord

	// Actions restricts the scan to these actions. Nil scans every event.
	Actions []string

	Stats PruningStats
}

// PruningStats contains statistics about partition selection.
type PruningStats struct {
	// Candidates is the number of partitions matching the day predicate.
	Candidates int

	// Selected is the number of partitions left after bloom pruning.
	Selected int

	// Pruned is the number of partitions skipped by bloom filters.
	Pruned int
}

// Options controls planning.
type Options struct {
	// RequireCompleteWindow fails planning when any window day has no
	// partition. Otherwise only the data day itself must be present.
	RequireCompleteWindow bool

	// BloomPruning enables action bloom filter pruning.
	BloomPruning bool
}

// Planner generates scan plans from the manifest catalog.
type Planner struct {
	catalog manifest.CatalogReader
	pruner  *Pruner
	opts    Options
	metrics *metrics.Collectors
}

// NewPlanner creates a planner. pruner may be nil, which disables bloom
// pruning regardless of opts.
func NewPlanner(catalog manifest.CatalogReader, pruner *Pruner, opts Options, m *metrics.Collectors) *Planner {
	return &Planner{
		catalog: catalog,
		pruner:  pruner,
		opts:    opts,
		metrics: m,
	}
}

// Plan selects the partitions covering the window of day. When actions is
// non-nil, partitions that cannot hold any of them are pruned and the scan
// is restricted to them.
func (p *Planner) Plan(ctx context.Context, day civil.Date, actions []string) (*Plan, error) {
	log := logging.FromContext(ctx)

	window := DailyWindow(day)
	pred, err := partition.SelectRange(window.Start, window.End)
	if err != nil {
		return nil, err
	}

	candidates, err := p.catalog.FindPartitions(ctx, pred)
	if err != nil {
		return nil, fmt.Errorf("planner: failed to find partitions: %w", err)
	}

	if err := p.checkAvailability(window, candidates); err != nil {
		return nil, err
	}

	selected := candidates
	if actions != nil && p.opts.BloomPruning && p.pruner != nil {
		selected = p.pruner.Prune(ctx, candidates, actions)
	}

	plan := &Plan{
		Window:     window,
		Predicate:  pred,
		Partitions: selected,
		Actions:    actions,
		Stats: PruningStats{
			Candidates: len(candidates),
			Selected:   len(selected),
			Pruned:     len(candidates) - len(selected),
		},
	}
	p.metrics.ObservePlan(plan.Stats.Selected, plan.Stats.Pruned)

	log.Infow("Planned daily scan",
		"dataDay", day.String(),
		"predicate", pred.String(),
		"candidates", plan.Stats.Candidates,
		"selected", plan.Stats.Selected,
		"pruned", plan.Stats.Pruned)
	return plan, nil
}

func (p *Planner) checkAvailability(window Window, candidates []*manifest.PartitionRecord) error {
	present := make(map[types.PartitionKey]bool, len(candidates))
	for _, c := range candidates {
		present[c.Key] = true
	}

	if !present[types.PartitionKeyForDate(window.DataDay)] {
		return ferrors.NewInputUnavailable(
			fmt.Sprintf("no partitions for data day %s", window.DataDay), nil).
			WithDetails(map[string]interface{}{"day": window.DataDay.String()})
	}
	if !p.opts.RequireCompleteWindow {
		return nil
	}

	var missing []string
	for _, d := range window.Days() {
		if !present[types.PartitionKeyForDate(d)] {
			missing = append(missing, d.String())
		}
	}
	if len(missing) > 0 {
		return ferrors.NewInputUnavailable(
			fmt.Sprintf("window %s..%s is incomplete", window.Start, window.End), nil).
			WithDetails(map[string]interface{}{"missing": missing})
	}
	return nil
}
