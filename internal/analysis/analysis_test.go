package analysis

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/query/aggregator"
	"github.com/arkilian/sessionfunnel/internal/query/planner"
	"github.com/arkilian/sessionfunnel/internal/session"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

var window = planner.DailyWindow(civil.Date{Year: 2021, Month: 3, Day: 10})

func at(min int) time.Time {
	return time.Date(2021, 3, 10, 12, min, 0, 0, time.UTC)
}

func ev(id, sid, action string, ts time.Time, attrs map[string]interface{}) types.Event {
	return types.Event{EventID: id, SessionID: sid, Action: action, Timestamp: ts, Attributes: attrs}
}

func jobNamed(t *testing.T, name string) Job {
	t.Helper()
	jobs, err := Select(Builtins(), []string{name})
	require.NoError(t, err)
	return jobs[0]
}

func TestBuiltins_Validate(t *testing.T) {
	for _, j := range Builtins() {
		assert.NoError(t, j.Validate(), j.Name)
		assert.NotNil(t, j.Actions(), j.Name)
	}
	assert.Contains(t, UnionActions(Builtins()), "media_dialog_open_edit")
}

func TestEvaluate_SearchFunnel(t *testing.T) {
	events := []types.Event{
		ev("a0", "A", "session_start", at(0), nil),
		ev("a1", "A", "search", at(1), nil),
		ev("a2", "A", "results_shown", at(2), nil),
		ev("a3", "A", "result_click", at(3), nil),
		ev("a4", "A", "result_engaged", at(4), nil),
		ev("b0", "B", "session_start", at(0), nil),
		ev("b1", "B", "search", at(1), nil),
		ev("b2", "B", "results_shown", at(2), nil),
		ev("c1", "C", "search", at(1), nil),
	}
	res, err := Evaluate(jobNamed(t, SearchFunnel), session.Group(events), window)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	want := map[string]float64{"sessions": 2, "search": 2, "results_shown": 2, "result_click": 1, "result_engaged": 1}
	for name, v := range want {
		m, ok := row.Metric(name)
		require.True(t, ok, name)
		assert.Equal(t, v, m.Value, name)
	}
}

func TestEvaluate_MediaDialogVariants(t *testing.T) {
	events := []types.Event{
		ev("a0", "A", "media_dialog_open_add", at(0), nil),
		ev("a1", "A", "search", at(1), nil),
		ev("a2", "A", "result_click", at(2), nil),
		ev("a3", "A", "media_insert", at(3), nil),
		ev("a4", "A", "dialog_close", at(4), nil),
		ev("b0", "B", "media_dialog_open_edit", at(0), nil),
		ev("b1", "B", "search", at(1), nil),
		ev("b2", "B", "result_click", at(2), nil),
		ev("b3", "B", "media_copy", at(3), nil),
		ev("b4", "B", "dialog_cancel", at(4), nil),
		ev("c0", "C", "media_dialog_open_edit", at(0), nil),
	}
	res, err := Evaluate(jobNamed(t, MediaDialog), session.Group(events), window)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	byPath := make(map[string]types.AggregateRow)
	for _, r := range res.Rows {
		p, _ := r.Dimension("path_type")
		byPath[p] = r
	}
	metric := func(path, name string) float64 {
		m, ok := byPath[path].Metric(name)
		require.True(t, ok)
		return m.Value
	}
	assert.Equal(t, 1.0, metric("add", "sessions"))
	assert.Equal(t, 1.0, metric("add", "insert"))
	assert.Equal(t, 0.0, metric("add", "copy"))
	assert.Equal(t, 2.0, metric("edit", "sessions"))
	assert.Equal(t, 1.0, metric("edit", "copy"))
	assert.Equal(t, 1.0, metric("edit", "dialog_closed"))
}

func TestEvaluate_FilterUsageAndClickPosition(t *testing.T) {
	events := []types.Event{
		ev("a0", "A", "session_start", at(0), nil),
		ev("a1", "A", "filter", at(1), map[string]interface{}{"filter_type": "lang", "filter_value": "de"}),
		ev("a2", "A", "filter", at(2), map[string]interface{}{"filter_type": "lang", "filter_value": " "}),
		ev("a3", "A", "result_click", at(3), map[string]interface{}{"position": 1.0, "namespace": "main"}),
		ev("a4", "A", "result_click", at(4), map[string]interface{}{"position": 2.0, "namespace": "main"}),
		ev("b0", "B", "session_start", at(0), nil),
		ev("b1", "B", "result_click", at(3), map[string]interface{}{"position": 2.0, "namespace": "main"}),
		ev("b2", "B", "result_click", at(4), map[string]interface{}{"position": 5.0, "namespace": "main"}),
	}
	sessions := session.Group(events)

	res, err := Evaluate(jobNamed(t, FilterUsage), sessions, window)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	v, _ := res.Rows[1].Dimension("filter_value")
	assert.Equal(t, aggregator.ResetValue, v)

	res, err = Evaluate(jobNamed(t, ClickPosition), sessions, window)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	for _, r := range res.Rows {
		ns, _ := r.Dimension("namespace")
		m, _ := r.Metric("median_position")
		if ns == "main" {
			assert.Equal(t, 2.0, m.Value)
		} else {
			assert.Equal(t, 0.0, m.Value, ns)
		}
	}
}

const jobsYAML = `
jobs:
  - name: checkout
    variants:
      - start: {action: cart_open}
        steps:
          - name: pay
            match:
              all_of:
                - {action: click}
                - {attr_equals: {target: pay}}
            required: true
          - name: closed
            match:
              any_of: [{action: close}, {action: cancel}]
    aggregate:
      kind: funnel
      steps: [pay, closed]
      dimensions:
        - {name: platform, step: start, attribute: platform, default: web}
`

func TestParse(t *testing.T) {
	jobs, err := Parse([]byte(jobsYAML))
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	j := jobs[0]
	assert.Equal(t, "checkout_daily", j.Table)
	require.Len(t, j.Variants, 1)
	def := j.Variants[0].Definition
	assert.Equal(t, "(action=click AND target=\"pay\")", def.Steps[0].Match.String())
	assert.Equal(t, []string{"cancel", "cart_open", "click", "close"}, j.Actions())

	events := []types.Event{
		ev("a0", "A", "cart_open", at(0), map[string]interface{}{"platform": "ios"}),
		ev("a1", "A", "click", at(1), map[string]interface{}{"target": "pay"}),
		ev("b0", "B", "cart_open", at(0), nil),
		ev("b1", "B", "click", at(1), map[string]interface{}{"target": "help"}),
		ev("b2", "B", "cancel", at(2), nil),
	}
	res, err := Evaluate(j, session.Group(events), window)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	p, _ := res.Rows[0].Dimension("platform")
	assert.Equal(t, "ios", p)
	p, _ = res.Rows[1].Dimension("platform")
	assert.Equal(t, "web", p)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "jobs: [",
		"empty predicate": "jobs:\n  - name: x\n    variants:\n      - start: {}\n    aggregate: {kind: funnel}\n",
		"unknown kind":    "jobs:\n  - name: x\n    variants:\n      - start: {action: s}\n    aggregate: {kind: sum}\n",
		"duplicate": "jobs:\n  - name: x\n    variants:\n      - start: {action: s}\n    aggregate: {kind: funnel}\n" +
			"  - name: x\n    variants:\n      - start: {action: s}\n    aggregate: {kind: funnel}\n",
		"no variants": "jobs:\n  - name: x\n    aggregate: {kind: funnel}\n",
		"unknown aggregate step": "jobs:\n  - name: x\n    variants:\n      - start: {action: s}\n" +
			"        steps:\n          - {name: search, match: {action: search}, required: true}\n" +
			"    aggregate: {kind: funnel, steps: [serach]}\n",
		"unknown dimension step": "jobs:\n  - name: x\n    variants:\n      - start: {action: s}\n" +
			"        steps:\n          - {name: search, match: {action: search}}\n" +
			"    aggregate:\n      kind: funnel\n      steps: [search]\n" +
			"      dimensions: [{name: q, step: click, attribute: query}]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Equal(t, ferrors.ErrCategoryValidation, ferrors.GetCategory(err))
		})
	}
}

func TestJob_ValidateStepRefs(t *testing.T) {
	j := jobNamed(t, MediaDialog)
	j.Aggregate.Steps = append([]string(nil), j.Aggregate.Steps...)
	j.Aggregate.Steps[0] = "serach"
	err := j.Validate()
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeInvalidDefinition, ferrors.GetCode(err))
	assert.Contains(t, err.Error(), `"serach"`)

	// Every variant must define the step, not just the first.
	j = jobNamed(t, MediaDialog)
	edit := j.Variants[1].Definition
	edit.Steps = edit.Steps[:len(edit.Steps)-1]
	j.Variants = []Variant{j.Variants[0], {Label: "edit", Definition: edit}}
	err = j.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialog_closed")

	j = jobNamed(t, ClickPosition)
	j.Aggregate.Step = "result_clicks"
	assert.Error(t, j.Validate())

	j = jobNamed(t, ClickPosition)
	j.Aggregate.Dimensions = append(j.Aggregate.Dimensions,
		aggregator.Dimension{Name: "entry", Step: "start", Attribute: "platform"})
	assert.NoError(t, j.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobsYAML), 0644))
	jobs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSelectAndMerge(t *testing.T) {
	_, err := Select(Builtins(), []string{"nope"})
	assert.Error(t, err)

	all, err := Select(Builtins(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	custom := Job{Name: SearchFunnel, Table: "custom"}
	merged := Merge(Builtins(), []Job{custom, {Name: "extra"}})
	require.Len(t, merged, 5)
	assert.Equal(t, "custom", merged[0].Table)
	assert.Equal(t, "extra", merged[4].Name)
}
