package funnel

import (
	"time"

	"github.com/arkilian/sessionfunnel/internal/session"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Hit is the occurrence of a step within a session.
type Hit struct {
	// Time is the timestamp of the first qualifying event.
	Time  time.Time
	Event types.Event

	// Events holds every qualifying event when the step collects.
	Events []types.Event
}

// Outcome is the result of matching one session.
type Outcome struct {
	SessionID string
	Variant   string
	Start     Hit

	// Steps is aligned with Definition.Steps. Absent steps are None.
	Steps []types.Optional[Hit]

	index map[string]int
}

// Hit returns the named step's occurrence. StartStep is always present.
func (o Outcome) Hit(step string) (Hit, bool) {
	if step == StartStep {
		return o.Start, true
	}
	i, ok := o.index[step]
	if !ok {
		return Hit{}, false
	}
	return o.Steps[i].Get()
}

// Present reports whether the named step occurred.
func (o Outcome) Present(step string) bool {
	_, ok := o.Hit(step)
	return ok
}

// Matcher evaluates one funnel definition.
type Matcher struct {
	def     Definition
	variant string
	index   map[string]int
	anchors []int // -1 is the start
}

// NewMatcher validates def and prepares a matcher. variant labels every
// outcome it produces.
func NewMatcher(def Definition, variant string) (*Matcher, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m := &Matcher{
		def:     def,
		variant: variant,
		index:   make(map[string]int, len(def.Steps)),
		anchors: make([]int, len(def.Steps)),
	}
	lastRequired := -1
	for i, s := range def.Steps {
		m.index[s.Name] = i
		switch {
		case s.Required:
			m.anchors[i] = lastRequired
			lastRequired = i
		case s.Anchor == "" || s.Anchor == StartStep:
			m.anchors[i] = -1
		default:
			m.anchors[i] = m.index[s.Anchor]
		}
	}
	return m, nil
}

// Definition returns the matched funnel.
func (m *Matcher) Definition() Definition { return m.def }

// Match evaluates the funnel against one session of interest. Only events
// with start <= ts < cutoff are considered. A step's occurrence is its
// first qualifying event at or after its anchor's time; equal timestamps
// satisfy the ordering.
func (m *Matcher) Match(in session.Interest, cutoff time.Time) Outcome {
	out := Outcome{
		SessionID: in.Session.ID,
		Variant:   m.variant,
		Start:     Hit{Time: in.StartTime, Event: in.StartEvent},
		Steps:     make([]types.Optional[Hit], len(m.def.Steps)),
		index:     m.index,
	}

	for i, step := range m.def.Steps {
		anchor := out.Start
		if a := m.anchors[i]; a >= 0 {
			hit, ok := out.Steps[a].Get()
			if !ok {
				out.Steps[i] = types.None[Hit]()
				continue
			}
			anchor = hit
		}
		out.Steps[i] = m.find(in.Session.Events, step, anchor.Time, cutoff)
	}
	return out
}

// MatchAll matches every session of interest.
func (m *Matcher) MatchAll(interests []session.Interest, cutoff time.Time) []Outcome {
	outcomes := make([]Outcome, len(interests))
	for i, in := range interests {
		outcomes[i] = m.Match(in, cutoff)
	}
	return outcomes
}

// find expects events in time order.
func (m *Matcher) find(events []types.Event, step Step, from, cutoff time.Time) types.Optional[Hit] {
	var hit Hit
	found := false
	for _, e := range events {
		if e.Timestamp.Before(from) {
			continue
		}
		if !e.Timestamp.Before(cutoff) {
			break
		}
		if !step.Match.Matches(e) {
			continue
		}
		if !found {
			hit = Hit{Time: e.Timestamp, Event: e}
			found = true
			if !step.Collect {
				break
			}
		}
		hit.Events = append(hit.Events, e)
	}
	if !found {
		return types.None[Hit]()
	}
	return types.Some(hit)
}
