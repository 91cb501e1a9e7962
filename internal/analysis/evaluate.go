package analysis

import (
	"github.com/arkilian/sessionfunnel/internal/funnel"
	"github.com/arkilian/sessionfunnel/internal/query/aggregator"
	"github.com/arkilian/sessionfunnel/internal/query/planner"
	"github.com/arkilian/sessionfunnel/internal/session"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Result is the evaluation of one job for one data day.
type Result struct {
	Job      Job
	Outcomes []funnel.Outcome
	Rows     []types.AggregateRow
}

// Evaluate matches every variant of the job against sessions and
// aggregates the outcomes for the window's data day.
func Evaluate(job Job, sessions []*session.Session, window planner.Window) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	var outcomes []funnel.Outcome
	for _, v := range job.Variants {
		m, err := funnel.NewMatcher(v.Definition, v.Label)
		if err != nil {
			return nil, err
		}
		interests := session.Extract(sessions, v.Definition.Start, window.DataDay)
		outcomes = append(outcomes, m.MatchAll(interests, window.Cutoff)...)
	}

	rows, err := aggregator.Aggregate(window.DataDay, outcomes, job.Aggregate)
	if err != nil {
		return nil, err
	}
	return &Result{Job: job, Outcomes: outcomes, Rows: rows}, nil
}
