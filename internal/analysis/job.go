// Package analysis defines the daily analyses: a funnel definition per
// variant plus the aggregation and output table for its outcomes.
package analysis

import (
	"fmt"
	"sort"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/funnel"
	"github.com/arkilian/sessionfunnel/internal/query/aggregator"
	"github.com/arkilian/sessionfunnel/internal/sink"
)

// Variant is one funnel of a job. Its label becomes the outcome variant.
type Variant struct {
	Label      string
	Definition funnel.Definition
}

// Job is one daily analysis.
type Job struct {
	Name      string
	Table     string
	Variants  []Variant
	Aggregate aggregator.Spec
}

// Validate checks the job, its funnels and its aggregation.
func (j Job) Validate() error {
	if j.Name == "" {
		return invalid("job without a name")
	}
	if j.Table == "" {
		return invalid(fmt.Sprintf("job %s has no output table", j.Name))
	}
	if len(j.Variants) == 0 {
		return invalid(fmt.Sprintf("job %s has no funnel", j.Name))
	}
	labels := make(map[string]bool)
	for _, v := range j.Variants {
		if labels[v.Label] {
			return invalid(fmt.Sprintf("job %s: duplicate variant %q", j.Name, v.Label))
		}
		labels[v.Label] = true
		if err := v.Definition.Validate(); err != nil {
			return err
		}
	}
	if err := j.Aggregate.Validate(); err != nil {
		return err
	}
	if err := j.validateStepRefs(); err != nil {
		return err
	}
	return j.OutputTable().Validate()
}

// validateStepRefs requires every step the aggregation reads to be defined
// by every variant. An unknown step would otherwise count as never present.
func (j Job) validateStepRefs() error {
	refs := append([]string(nil), j.Aggregate.Steps...)
	if j.Aggregate.Step != "" {
		refs = append(refs, j.Aggregate.Step)
	}
	for _, d := range j.Aggregate.Dimensions {
		if d.Step != "" {
			refs = append(refs, d.Step)
		}
	}

	for _, v := range j.Variants {
		defined := map[string]bool{funnel.StartStep: true}
		for _, name := range v.Definition.StepNames() {
			defined[name] = true
		}
		for _, ref := range refs {
			if !defined[ref] {
				return invalid(fmt.Sprintf("job %s: aggregation reads step %q, which funnel %s does not define",
					j.Name, ref, v.Definition.Name))
			}
		}
	}
	return nil
}

// OutputTable returns the output schema of the job.
func (j Job) OutputTable() sink.Table {
	return sink.TableFor(j.Table, j.Aggregate)
}

// Actions is the union of actions every variant can match, or nil if any
// funnel is unrestricted.
func (j Job) Actions() []string {
	return UnionActions([]Job{j})
}

// UnionActions is the union of the actions of jobs, or nil if any of them
// is unrestricted.
func UnionActions(jobs []Job) []string {
	set := make(map[string]struct{})
	for _, j := range jobs {
		for _, v := range j.Variants {
			actions := v.Definition.Actions()
			if actions == nil {
				return nil
			}
			for _, a := range actions {
				set[a] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Select returns the named jobs in the requested order. Empty names selects
// every job.
func Select(jobs []Job, names []string) ([]Job, error) {
	if len(names) == 0 {
		return jobs, nil
	}
	byName := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name] = j
	}
	selected := make([]Job, 0, len(names))
	for _, n := range names {
		j, ok := byName[n]
		if !ok {
			return nil, invalid(fmt.Sprintf("unknown job %q", n))
		}
		selected = append(selected, j)
	}
	return selected, nil
}

// Merge appends extra to base. A job in extra replaces the base job with
// the same name.
func Merge(base, extra []Job) []Job {
	index := make(map[string]int, len(base))
	out := append([]Job(nil), base...)
	for i, j := range out {
		index[j.Name] = i
	}
	for _, j := range extra {
		if i, ok := index[j.Name]; ok {
			out[i] = j
			continue
		}
		index[j.Name] = len(out)
		out = append(out, j)
	}
	return out
}

func invalid(msg string) error {
	return ferrors.NewValidationError(ferrors.CodeInvalidDefinition, "analysis: "+msg)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
