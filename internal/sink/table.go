// Package sink writes aggregate rows to the output dataset.
package sink

import (
	"fmt"
	"regexp"
	"strings"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/query/aggregator"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// RunsTable is the audit table recording every write.
const RunsTable = "_funnel_runs"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column is a metric column.
type Column struct {
	Name string
	Kind types.MetricKind
}

// Table is the fixed schema of one analysis' output: log_date, the
// dimension columns, then the metric columns.
type Table struct {
	Name       string
	Dimensions []string
	Metrics    []Column
}

// TableFor derives the output schema of an aggregation.
func TableFor(name string, spec aggregator.Spec) Table {
	kind := types.MetricCount
	if spec.Kind == aggregator.KindMedian {
		kind = types.MetricStatistic
	}
	t := Table{Name: name, Dimensions: spec.DimensionNames()}
	for _, m := range spec.MetricNames() {
		t.Metrics = append(t.Metrics, Column{Name: m, Kind: kind})
	}
	return t
}

// Validate checks every identifier of the table.
func (t Table) Validate() error {
	names := append([]string{t.Name}, t.Dimensions...)
	for _, m := range t.Metrics {
		names = append(names, m.Name)
	}
	seen := make(map[string]bool)
	for i, n := range names {
		if !identifierRe.MatchString(n) {
			return ferrors.NewValidationError(ferrors.CodeInvalidDefinition,
				fmt.Sprintf("sink: invalid identifier %q", n))
		}
		if i > 0 {
			if seen[n] || n == "log_date" {
				return ferrors.NewValidationError(ferrors.CodeInvalidDefinition,
					fmt.Sprintf("sink: duplicate column %q in table %s", n, t.Name))
			}
			seen[n] = true
		}
	}
	return nil
}

func (t Table) createSQL() string {
	cols := []string{quote("log_date") + " DATE NOT NULL"}
	for _, d := range t.Dimensions {
		cols = append(cols, quote(d)+" TEXT NOT NULL")
	}
	for _, m := range t.Metrics {
		typ := "BIGINT"
		if m.Kind == types.MetricStatistic {
			typ = "DOUBLE"
		}
		cols = append(cols, quote(m.Name)+" "+typ)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.Name), strings.Join(cols, ", "))
}

func (t Table) insertSQL(datePlaceholder string) string {
	cols := []string{quote("log_date")}
	vals := []string{datePlaceholder}
	for _, d := range t.Dimensions {
		cols = append(cols, quote(d))
		vals = append(vals, "?")
	}
	for _, m := range t.Metrics {
		cols = append(cols, quote(m.Name))
		vals = append(vals, "?")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.Name), strings.Join(cols, ", "), strings.Join(vals, ", "))
}

func (t Table) deleteSQL(datePlaceholder string) string {
	conds := []string{quote("log_date") + " = " + datePlaceholder}
	for _, d := range t.Dimensions {
		conds = append(conds, quote(d)+" = ?")
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quote(t.Name), strings.Join(conds, " AND "))
}

func (t Table) keyArgs(row types.AggregateRow) []interface{} {
	args := make([]interface{}, 0, len(t.Dimensions)+1)
	args = append(args, row.LogDate.String())
	for _, d := range t.Dimensions {
		v, _ := row.Dimension(d)
		args = append(args, v)
	}
	return args
}

func (t Table) insertArgs(row types.AggregateRow) []interface{} {
	args := t.keyArgs(row)
	for _, col := range t.Metrics {
		m, ok := row.Metric(col.Name)
		switch {
		case !ok:
			args = append(args, nil)
		case col.Kind == types.MetricCount:
			args = append(args, int64(m.Value))
		default:
			args = append(args, m.Value)
		}
	}
	return args
}

func quote(ident string) string {
	return `"` + ident + `"`
}
