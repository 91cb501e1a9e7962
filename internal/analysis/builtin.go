package analysis

import (
	"github.com/arkilian/sessionfunnel/internal/funnel"
	"github.com/arkilian/sessionfunnel/internal/query/aggregator"
)

// Names of the built-in jobs.
const (
	SearchFunnel  = "search_funnel"
	FilterUsage   = "filter_usage"
	ClickPosition = "click_position"
	MediaDialog   = "media_dialog"
)

const sessionStart = "session_start"

// Builtins returns the built-in analyses.
func Builtins() []Job {
	return []Job{searchFunnel(), filterUsage(), clickPosition(), mediaDialog()}
}

func searchFunnel() Job {
	def := funnel.Definition{
		Name:  SearchFunnel,
		Start: funnel.Action(sessionStart),
		Steps: []funnel.Step{
			{Name: "search", Match: funnel.Action("search"), Required: true},
			{Name: "results_shown", Match: funnel.Action("results_shown"), Required: true},
			{Name: "result_click", Match: funnel.Action("result_click"), Required: true},
			{Name: "result_engaged", Match: funnel.Action("result_engaged"), Required: true},
		},
	}
	return Job{
		Name:     SearchFunnel,
		Table:    "search_funnel_daily",
		Variants: []Variant{{Definition: def}},
		Aggregate: aggregator.Spec{
			Kind:  aggregator.KindFunnel,
			Steps: def.StepNames(),
		},
	}
}

func filterUsage() Job {
	def := funnel.Definition{
		Name:  FilterUsage,
		Start: funnel.Action(sessionStart),
		Steps: []funnel.Step{
			{Name: "filter_applied", Match: funnel.Action("filter"), Collect: true},
		},
	}
	return Job{
		Name:     FilterUsage,
		Table:    "filter_usage_daily",
		Variants: []Variant{{Definition: def}},
		Aggregate: aggregator.Spec{
			Kind: aggregator.KindCategorical,
			Step: "filter_applied",
			Dimensions: []aggregator.Dimension{
				{Name: "filter_type", Attribute: "filter_type", Default: aggregator.ResetValue},
				{Name: "filter_value", Attribute: "filter_value", Default: aggregator.ResetValue},
			},
		},
	}
}

func clickPosition() Job {
	def := funnel.Definition{
		Name:  ClickPosition,
		Start: funnel.Action(sessionStart),
		Steps: []funnel.Step{
			{Name: "result_click", Match: funnel.Action("result_click"), Collect: true},
		},
	}
	return Job{
		Name:     ClickPosition,
		Table:    "click_position_daily",
		Variants: []Variant{{Definition: def}},
		Aggregate: aggregator.Spec{
			Kind:  aggregator.KindMedian,
			Step:  "result_click",
			Value: "position",
			Dimensions: []aggregator.Dimension{{
				Name:      "namespace",
				Attribute: "namespace",
				Values:    []string{"main", "file", "help"},
				Default:   "unknown",
			}},
			Empty: 0.0,
		},
	}
}

func mediaDialog() Job {
	variant := func(label, startAction string) Variant {
		return Variant{
			Label: label,
			Definition: funnel.Definition{
				Name:  MediaDialog + "_" + label,
				Start: funnel.Action(startAction),
				Steps: []funnel.Step{
					{Name: "search", Match: funnel.Action("search"), Required: true},
					{Name: "result_click", Match: funnel.Action("result_click"), Required: true},
					{Name: "insert", Match: funnel.Action("media_insert"), Anchor: "result_click"},
					{Name: "copy", Match: funnel.Action("media_copy"), Anchor: "result_click"},
					{Name: "dialog_closed", Match: funnel.AnyOf(funnel.Action("dialog_close"), funnel.Action("dialog_cancel"))},
				},
			},
		}
	}
	add := variant("add", "media_dialog_open_add")
	return Job{
		Name:     MediaDialog,
		Table:    "media_dialog_daily",
		Variants: []Variant{add, variant("edit", "media_dialog_open_edit")},
		Aggregate: aggregator.Spec{
			Kind:  aggregator.KindFunnel,
			Steps: add.Definition.StepNames(),
			Dimensions: []aggregator.Dimension{
				{Name: "path_type", Variant: true, Values: []string{"add", "edit"}},
			},
		},
	}
}
