// Package funnel matches ordered, optionally branching step sequences
// against sessions.
package funnel

import (
	"fmt"
	"sort"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
)

// StartStep names the implicit first step: the session start.
const StartStep = "start"

// Step is one funnel step.
type Step struct {
	Name  string
	Match Predicate

	// Required steps form the main chain: each is searched from the
	// previous required step (or the start) and blocks the rest when
	// absent.
	Required bool

	// Anchor names the earlier step a branch step is searched from. Empty
	// means the start. Required steps must leave it empty.
	Anchor string

	// Collect gathers every qualifying event, not just the first.
	Collect bool
}

// Definition is a complete funnel.
type Definition struct {
	Name  string
	Start Predicate
	Steps []Step
}

// Validate checks names, anchors and predicates.
func (d Definition) Validate() error {
	if d.Name == "" {
		return invalid("funnel name is empty")
	}
	if d.Start == nil {
		return invalid(fmt.Sprintf("funnel %s has no start predicate", d.Name))
	}

	seen := map[string]bool{StartStep: true}
	for i, s := range d.Steps {
		switch {
		case s.Name == "":
			return invalid(fmt.Sprintf("funnel %s: step %d has no name", d.Name, i+1))
		case seen[s.Name]:
			return invalid(fmt.Sprintf("funnel %s: duplicate step name %q", d.Name, s.Name))
		case s.Match == nil:
			return invalid(fmt.Sprintf("funnel %s: step %q has no predicate", d.Name, s.Name))
		case s.Required && s.Anchor != "":
			return invalid(fmt.Sprintf("funnel %s: required step %q cannot set an anchor", d.Name, s.Name))
		case s.Anchor != "" && !seen[s.Anchor]:
			return invalid(fmt.Sprintf("funnel %s: step %q is anchored at unknown or later step %q", d.Name, s.Name, s.Anchor))
		}
		seen[s.Name] = true
	}
	return nil
}

// StepNames returns the step names in order, excluding the start.
func (d Definition) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Actions is the union of actions the funnel can match, or nil if any of
// its predicates is unrestricted.
func (d Definition) Actions() []string {
	set := make(map[string]struct{})
	preds := []Predicate{d.Start}
	for _, s := range d.Steps {
		preds = append(preds, s.Match)
	}
	for _, p := range preds {
		actions := p.Actions()
		if actions == nil {
			return nil
		}
		for _, a := range actions {
			set[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func invalid(msg string) error {
	return ferrors.NewValidationError(ferrors.CodeInvalidDefinition, msg)
}
