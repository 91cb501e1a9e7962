// Package aggregator reduces per-session funnel outcomes into per-day,
// per-dimension aggregate rows.
package aggregator

import (
	"fmt"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
)

// Kind selects the reduction an aggregation performs.
type Kind string

const (
	// KindFunnel counts sessions and the sessions where each step is present.
	KindFunnel Kind = "funnel"

	// KindCategorical counts collected events per dimension combination.
	KindCategorical Kind = "categorical"

	// KindMedian computes the median of a numeric attribute per group.
	KindMedian Kind = "median"
)

// ResetValue replaces blank categorical values.
const ResetValue = "reset"

// SessionsMetric counts sessions of interest in funnel aggregations.
const SessionsMetric = "sessions"

// CountMetric counts events in categorical aggregations.
const CountMetric = "count"

// Dimension is one grouping column.
type Dimension struct {
	Name string

	// Constant, when set, is the value of every row.
	Constant string

	// Variant uses the outcome's variant label.
	Variant bool

	// Step reads Attribute from the named step's first event instead of
	// from the observed event.
	Step string

	Attribute string

	// Values are always emitted, even for groups with no observations.
	Values []string

	// Default replaces blank or missing values.
	Default string
}

// Spec describes one aggregation.
type Spec struct {
	Kind Kind

	// Steps lists the steps counted by a funnel aggregation.
	Steps []string

	// Step is the step whose collected events a categorical or median
	// aggregation observes.
	Step string

	// Value is the numeric attribute a median aggregation reads.
	Value string

	// Metric names the median metric. Defaults to "median_<Value>".
	Metric string

	Dimensions []Dimension

	// Empty is reported for a median group without values.
	Empty float64
}

// Validate checks that the spec is complete for its kind.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindFunnel:
	case KindCategorical:
		if s.Step == "" {
			return invalid("categorical aggregation needs a step")
		}
	case KindMedian:
		if s.Step == "" || s.Value == "" {
			return invalid("median aggregation needs a step and a value attribute")
		}
	default:
		return invalid(fmt.Sprintf("unknown aggregation kind %q", s.Kind))
	}

	seen := make(map[string]bool)
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return invalid("dimension without a name")
		}
		if seen[d.Name] {
			return invalid(fmt.Sprintf("duplicate dimension %q", d.Name))
		}
		seen[d.Name] = true
		if d.Constant == "" && !d.Variant && d.Attribute == "" {
			return invalid(fmt.Sprintf("dimension %q has no value source", d.Name))
		}
	}
	return nil
}

// MetricName returns the median metric name.
func (s Spec) MetricName() string {
	if s.Metric != "" {
		return s.Metric
	}
	return "median_" + s.Value
}

// MetricNames lists the metric columns in output order.
func (s Spec) MetricNames() []string {
	switch s.Kind {
	case KindFunnel:
		return append([]string{SessionsMetric}, s.Steps...)
	case KindCategorical:
		return []string{CountMetric}
	case KindMedian:
		return []string{s.MetricName()}
	}
	return nil
}

// DimensionNames lists the dimension columns in output order.
func (s Spec) DimensionNames() []string {
	names := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		names[i] = d.Name
	}
	return names
}

func invalid(msg string) error {
	return ferrors.NewValidationError(ferrors.CodeInvalidDefinition, "aggregator: "+msg)
}
