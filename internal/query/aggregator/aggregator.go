package aggregator

import (
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/montanaflynn/stats"

	"github.com/arkilian/sessionfunnel/internal/funnel"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// groupKey is types.JoinKey of the dimension values.
type groupKey = string

type group struct {
	values []string
	counts []float64 // funnel: sessions then steps; categorical: count
	sample []float64 // median inputs
}

// Aggregate reduces outcomes into one row per group for day. Rows are
// ordered by their logical key.
func Aggregate(day civil.Date, outcomes []funnel.Outcome, spec Spec) ([]types.AggregateRow, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	a := &aggregation{spec: spec, groups: make(map[groupKey]*group)}
	a.seed()

	for _, o := range outcomes {
		switch spec.Kind {
		case KindFunnel:
			g := a.group(a.resolve(o, o.Start.Event))
			g.counts[0]++
			for i, step := range spec.Steps {
				if o.Present(step) {
					g.counts[i+1]++
				}
			}
		case KindCategorical:
			for _, e := range observed(o, spec.Step) {
				a.group(a.resolve(o, e)).counts[0]++
			}
		case KindMedian:
			for _, e := range observed(o, spec.Step) {
				v, ok := e.FloatAttr(spec.Value)
				if !ok {
					continue
				}
				g := a.group(a.resolve(o, e))
				g.sample = append(g.sample, v)
			}
		}
	}

	return a.rows(day), nil
}

type aggregation struct {
	spec   Spec
	groups map[groupKey]*group
}

func (a *aggregation) group(values []string) *group {
	key := types.JoinKey("", values)
	g, ok := a.groups[key]
	if !ok {
		g = &group{values: values, counts: make([]float64, a.countWidth())}
		a.groups[key] = g
	}
	return g
}

func (a *aggregation) countWidth() int {
	switch a.spec.Kind {
	case KindFunnel:
		return len(a.spec.Steps) + 1
	case KindCategorical:
		return 1
	}
	return 0
}

// seed creates the groups that are emitted even without observations: the
// single group of a dimensionless funnel or median, and every combination
// of declared values.
func (a *aggregation) seed() {
	if len(a.spec.Dimensions) == 0 {
		if a.spec.Kind != KindCategorical {
			a.group([]string{})
		}
		return
	}

	choices := make([][]string, len(a.spec.Dimensions))
	for i, d := range a.spec.Dimensions {
		switch {
		case d.Constant != "":
			choices[i] = []string{d.Constant}
		case len(d.Values) > 0:
			choices[i] = d.Values
		default:
			return
		}
	}

	var walk func(i int, prefix []string)
	walk = func(i int, prefix []string) {
		if i == len(choices) {
			a.group(append([]string(nil), prefix...))
			return
		}
		for _, v := range choices[i] {
			walk(i+1, append(prefix, v))
		}
	}
	walk(0, nil)
}

// resolve computes the dimension values of one observation.
func (a *aggregation) resolve(o funnel.Outcome, e types.Event) []string {
	values := make([]string, len(a.spec.Dimensions))
	for i, d := range a.spec.Dimensions {
		var v string
		switch {
		case d.Constant != "":
			v = d.Constant
		case d.Variant:
			v = o.Variant
		case d.Step != "":
			if hit, ok := o.Hit(d.Step); ok {
				v, _ = hit.Event.StringAttr(d.Attribute)
			}
		default:
			v, _ = e.StringAttr(d.Attribute)
		}
		if strings.TrimSpace(v) == "" {
			v = a.defaultFor(d)
		}
		values[i] = v
	}
	return values
}

func (a *aggregation) defaultFor(d Dimension) string {
	if d.Default != "" {
		return d.Default
	}
	if a.spec.Kind == KindCategorical {
		return ResetValue
	}
	return ""
}

func (a *aggregation) rows(day civil.Date) []types.AggregateRow {
	names := a.spec.MetricNames()
	rows := make([]types.AggregateRow, 0, len(a.groups))
	for _, g := range a.groups {
		row := types.AggregateRow{LogDate: day}
		for i, d := range a.spec.Dimensions {
			row.Dimensions = append(row.Dimensions, types.Dimension{Name: d.Name, Value: g.values[i]})
		}

		if a.spec.Kind == KindMedian {
			row.Metrics = []types.Metric{{Name: names[0], Kind: types.MetricStatistic, Value: a.median(g.sample)}}
		} else {
			for i, name := range names {
				row.Metrics = append(row.Metrics, types.Metric{Name: name, Kind: types.MetricCount, Value: g.counts[i]})
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	return rows
}

func (a *aggregation) median(sample []float64) float64 {
	if len(sample) == 0 {
		return a.spec.Empty
	}
	m, err := stats.Median(sample)
	if err != nil {
		return a.spec.Empty
	}
	return m
}

// observed returns the events of step an aggregation looks at: every
// collected event, or the first one when the step does not collect.
func observed(o funnel.Outcome, step string) []types.Event {
	hit, ok := o.Hit(step)
	if !ok {
		return nil
	}
	if len(hit.Events) > 0 {
		return hit.Events
	}
	return []types.Event{hit.Event}
}
