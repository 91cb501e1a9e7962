package types

import (
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

// MetricKind determines how a metric value is stored.
type MetricKind string

const (
	// MetricCount is an integer count
	MetricCount MetricKind = "count"

	// MetricStatistic is a derived floating point value such as a median
	MetricStatistic MetricKind = "statistic"
)

// Dimension is a named categorical key of an aggregate row.
type Dimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metric is a named value of an aggregate row.
type Metric struct {
	Name  string     `json:"name"`
	Kind  MetricKind `json:"kind"`
	Value float64    `json:"value"`
}

// AggregateRow is one output row: a date, its dimension values and metrics.
// LogDate and the dimension values form the logical key.
type AggregateRow struct {
	LogDate    civil.Date  `json:"log_date"`
	Dimensions []Dimension `json:"dimensions"`
	Metrics    []Metric    `json:"metrics"`
}

// Key returns the logical primary key of the row. Dimension values are
// quoted so distinct tuples never share a key.
func (r AggregateRow) Key() string {
	values := make([]string, len(r.Dimensions))
	for i, d := range r.Dimensions {
		values[i] = d.Value
	}
	return JoinKey(r.LogDate.String(), values)
}

// JoinKey joins a prefix and quoted values into an unambiguous key.
func JoinKey(prefix string, values []string) string {
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, prefix)
	for _, v := range values {
		parts = append(parts, strconv.Quote(v))
	}
	return strings.Join(parts, "|")
}

// Metric returns the named metric.
func (r AggregateRow) Metric(name string) (Metric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Dimension returns the value of the named dimension.
func (r AggregateRow) Dimension(name string) (string, bool) {
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d.Value, true
		}
	}
	return "", false
}
