package analysis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/sessionfunnel/internal/funnel"
	"github.com/arkilian/sessionfunnel/internal/query/aggregator"
)

// File is the YAML layout of a job definitions file.
type File struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// JobSpec is the YAML form of a Job.
type JobSpec struct {
	Name      string        `yaml:"name"`
	Table     string        `yaml:"table"`
	Variants  []VariantSpec `yaml:"variants"`
	Aggregate AggregateSpec `yaml:"aggregate"`
}

// VariantSpec is the YAML form of a Variant.
type VariantSpec struct {
	Label string        `yaml:"label"`
	Start PredicateSpec `yaml:"start"`
	Steps []StepSpec    `yaml:"steps"`
}

// StepSpec is the YAML form of a funnel step.
type StepSpec struct {
	Name     string        `yaml:"name"`
	Match    PredicateSpec `yaml:"match"`
	Required bool          `yaml:"required"`
	Anchor   string        `yaml:"anchor"`
	Collect  bool          `yaml:"collect"`
}

// PredicateSpec is the YAML form of a predicate. Every field that is set
// must hold.
type PredicateSpec struct {
	Action     string            `yaml:"action"`
	AnyOf      []PredicateSpec   `yaml:"any_of"`
	AllOf      []PredicateSpec   `yaml:"all_of"`
	AttrEquals map[string]string `yaml:"attr_equals"`
	HasAttr    string            `yaml:"has_attr"`
}

// AggregateSpec is the YAML form of an aggregator.Spec.
type AggregateSpec struct {
	Kind       string          `yaml:"kind"`
	Steps      []string        `yaml:"steps"`
	Step       string          `yaml:"step"`
	Value      string          `yaml:"value"`
	Metric     string          `yaml:"metric"`
	Empty      float64         `yaml:"empty"`
	Dimensions []DimensionSpec `yaml:"dimensions"`
}

// DimensionSpec is the YAML form of an aggregator.Dimension.
type DimensionSpec struct {
	Name      string   `yaml:"name"`
	Constant  string   `yaml:"constant"`
	Variant   bool     `yaml:"variant"`
	Step      string   `yaml:"step"`
	Attribute string   `yaml:"attribute"`
	Values    []string `yaml:"values"`
	Default   string   `yaml:"default"`
}

// LoadFile reads and validates the jobs in a YAML file.
func LoadFile(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("analysis: failed to read jobs file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML job definitions.
func Parse(data []byte) ([]Job, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, invalid(fmt.Sprintf("failed to parse jobs: %v", err))
	}

	jobs := make([]Job, 0, len(f.Jobs))
	seen := make(map[string]bool)
	for _, spec := range f.Jobs {
		job, err := spec.Build()
		if err != nil {
			return nil, err
		}
		if seen[job.Name] {
			return nil, invalid(fmt.Sprintf("duplicate job %q", job.Name))
		}
		seen[job.Name] = true
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Build converts the spec into a validated Job.
func (s JobSpec) Build() (Job, error) {
	job := Job{Name: s.Name, Table: s.Table}
	if job.Table == "" {
		job.Table = s.Name + "_daily"
	}

	for _, vs := range s.Variants {
		start, err := vs.Start.Build()
		if err != nil {
			return Job{}, invalid(fmt.Sprintf("job %s: start: %v", s.Name, err))
		}
		def := funnel.Definition{Name: s.Name, Start: start}
		if vs.Label != "" {
			def.Name = s.Name + "_" + vs.Label
		}
		for _, ss := range vs.Steps {
			match, err := ss.Match.Build()
			if err != nil {
				return Job{}, invalid(fmt.Sprintf("job %s: step %s: %v", s.Name, ss.Name, err))
			}
			def.Steps = append(def.Steps, funnel.Step{
				Name:     ss.Name,
				Match:    match,
				Required: ss.Required,
				Anchor:   ss.Anchor,
				Collect:  ss.Collect,
			})
		}
		job.Variants = append(job.Variants, Variant{Label: vs.Label, Definition: def})
	}

	agg := aggregator.Spec{
		Kind:   aggregator.Kind(s.Aggregate.Kind),
		Steps:  s.Aggregate.Steps,
		Step:   s.Aggregate.Step,
		Value:  s.Aggregate.Value,
		Metric: s.Aggregate.Metric,
		Empty:  s.Aggregate.Empty,
	}
	for _, d := range s.Aggregate.Dimensions {
		agg.Dimensions = append(agg.Dimensions, aggregator.Dimension(d))
	}
	job.Aggregate = agg

	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Build converts the spec into a predicate.
func (p PredicateSpec) Build() (funnel.Predicate, error) {
	var parts []funnel.Predicate
	if p.Action != "" {
		parts = append(parts, funnel.Action(p.Action))
	}
	if len(p.AnyOf) > 0 {
		alts, err := buildAll(p.AnyOf)
		if err != nil {
			return nil, err
		}
		parts = append(parts, funnel.AnyOf(alts...))
	}
	if len(p.AllOf) > 0 {
		all, err := buildAll(p.AllOf)
		if err != nil {
			return nil, err
		}
		parts = append(parts, all...)
	}
	for _, k := range sortedKeys(p.AttrEquals) {
		parts = append(parts, funnel.AttrEquals(k, p.AttrEquals[k]))
	}
	if p.HasAttr != "" {
		parts = append(parts, funnel.HasAttr(p.HasAttr))
	}

	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("empty predicate")
	case 1:
		return parts[0], nil
	default:
		return funnel.AllOf(parts...), nil
	}
}

func buildAll(specs []PredicateSpec) ([]funnel.Predicate, error) {
	out := make([]funnel.Predicate, len(specs))
	for i, s := range specs {
		p, err := s.Build()
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}
