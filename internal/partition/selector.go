package partition

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Op is the day comparison applied within a month-scoped clause.
type Op int

const (
	// OpBetween matches Lo <= day <= Hi
	OpBetween Op = iota
	// OpAtLeast matches day >= Lo
	OpAtLeast
	// OpAtMost matches day <= Hi
	OpAtMost
)

// Clause restricts partitions to one month and a day range within it.
type Clause struct {
	Year  int
	Month int
	Op    Op
	Lo    int
	Hi    int
}

// Predicate is a disjunction of month-scoped clauses over the partition
// columns (year, month, day).
type Predicate struct {
	Clauses []Clause
}

// SelectRange builds the partition predicate covering [start, end] inclusive.
// Both days must fall in the same or adjacent calendar months.
func SelectRange(start, end civil.Date) (Predicate, error) {
	if !start.IsValid() || !end.IsValid() {
		return Predicate{}, ferrors.NewValidationError(ferrors.CodeInvalidRange,
			fmt.Sprintf("invalid day range %s..%s", start, end))
	}
	if end.Before(start) {
		return Predicate{}, ferrors.NewValidationError(ferrors.CodeInvalidRange,
			fmt.Sprintf("end day %s is before start day %s", end, start))
	}

	if start.Year == end.Year && start.Month == end.Month {
		return Predicate{Clauses: []Clause{{
			Year:  start.Year,
			Month: int(start.Month),
			Op:    OpBetween,
			Lo:    start.Day,
			Hi:    end.Day,
		}}}, nil
	}

	if !adjacentMonths(start, end) {
		return Predicate{}, ferrors.NewValidationError(ferrors.CodeInvalidRange,
			fmt.Sprintf("days %s and %s are not in the same or adjacent months", start, end))
	}

	return Predicate{Clauses: []Clause{
		{Year: start.Year, Month: int(start.Month), Op: OpAtLeast, Lo: start.Day},
		{Year: end.Year, Month: int(end.Month), Op: OpAtMost, Hi: end.Day},
	}}, nil
}

func adjacentMonths(start, end civil.Date) bool {
	next := time.Date(start.Year, start.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return next.Year() == end.Year && next.Month() == end.Month
}

// IsDisjunction reports whether the predicate spans a month boundary.
func (p Predicate) IsDisjunction() bool {
	return len(p.Clauses) > 1
}

// Matches evaluates the predicate against a partition key.
func (p Predicate) Matches(key types.PartitionKey) bool {
	for _, c := range p.Clauses {
		if c.matches(key) {
			return true
		}
	}
	return false
}

func (c Clause) matches(key types.PartitionKey) bool {
	if key.Year != c.Year || key.Month != c.Month {
		return false
	}
	switch c.Op {
	case OpBetween:
		return key.Day >= c.Lo && key.Day <= c.Hi
	case OpAtLeast:
		return key.Day >= c.Lo
	case OpAtMost:
		return key.Day <= c.Hi
	default:
		return false
	}
}

// Render produces a parameterised SQL condition. A non-empty alias qualifies
// the partition columns so the same predicate can address joined sources.
func (p Predicate) Render(alias string) (string, []interface{}) {
	if len(p.Clauses) == 0 {
		return "1=0", nil
	}

	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}

	var parts []string
	var args []interface{}
	for _, c := range p.Clauses {
		cond := fmt.Sprintf("%s = ? AND %s = ?", col("year"), col("month"))
		args = append(args, c.Year, c.Month)
		switch c.Op {
		case OpBetween:
			cond += fmt.Sprintf(" AND %s BETWEEN ? AND ?", col("day"))
			args = append(args, c.Lo, c.Hi)
		case OpAtLeast:
			cond += fmt.Sprintf(" AND %s >= ?", col("day"))
			args = append(args, c.Lo)
		case OpAtMost:
			cond += fmt.Sprintf(" AND %s <= ?", col("day"))
			args = append(args, c.Hi)
		}
		parts = append(parts, cond)
	}

	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, ") OR (") + ")", args
}

// String renders the predicate with literal values, for logs and plans.
func (p Predicate) String() string {
	parts := make([]string, 0, len(p.Clauses))
	for _, c := range p.Clauses {
		parts = append(parts, c.String())
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ") OR (") + ")"
}

func (c Clause) String() string {
	base := fmt.Sprintf("year=%d AND month=%d", c.Year, c.Month)
	switch c.Op {
	case OpBetween:
		return fmt.Sprintf("%s AND day BETWEEN %d AND %d", base, c.Lo, c.Hi)
	case OpAtLeast:
		return fmt.Sprintf("%s AND day>=%d", base, c.Lo)
	case OpAtMost:
		return fmt.Sprintf("%s AND day<=%d", base, c.Hi)
	default:
		return base
	}
}
