package funnel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Predicate selects the events that satisfy a step.
type Predicate interface {
	Matches(e types.Event) bool
	String() string

	// Actions lists every action a matching event can have, or nil when
	// the predicate accepts events of any action.
	Actions() []string
}

type actionPredicate struct {
	action string
}

// Action matches events with the given action.
func Action(name string) Predicate {
	return actionPredicate{action: name}
}

func (p actionPredicate) Matches(e types.Event) bool { return e.Action == p.action }
func (p actionPredicate) String() string             { return "action=" + p.action }
func (p actionPredicate) Actions() []string          { return []string{p.action} }

type anyOf struct {
	preds []Predicate
}

// AnyOf matches events satisfying at least one of preds.
func AnyOf(preds ...Predicate) Predicate {
	return anyOf{preds: preds}
}

func (p anyOf) Matches(e types.Event) bool {
	for _, pred := range p.preds {
		if pred.Matches(e) {
			return true
		}
	}
	return false
}

func (p anyOf) String() string {
	return "(" + joinPredicates(p.preds, " OR ") + ")"
}

func (p anyOf) Actions() []string {
	set := make(map[string]struct{})
	for _, pred := range p.preds {
		actions := pred.Actions()
		if actions == nil {
			return nil
		}
		for _, a := range actions {
			set[a] = struct{}{}
		}
	}
	return sortedSet(set)
}

type allOf struct {
	preds []Predicate
}

// AllOf matches events satisfying every one of preds.
func AllOf(preds ...Predicate) Predicate {
	return allOf{preds: preds}
}

func (p allOf) Matches(e types.Event) bool {
	for _, pred := range p.preds {
		if !pred.Matches(e) {
			return false
		}
	}
	return true
}

func (p allOf) String() string {
	return "(" + joinPredicates(p.preds, " AND ") + ")"
}

// Actions is the intersection of the restricted operands.
func (p allOf) Actions() []string {
	var set map[string]struct{}
	for _, pred := range p.preds {
		actions := pred.Actions()
		if actions == nil {
			continue
		}
		next := make(map[string]struct{})
		for _, a := range actions {
			if _, ok := set[a]; set == nil || ok {
				next[a] = struct{}{}
			}
		}
		set = next
	}
	if set == nil {
		return nil
	}
	return sortedSet(set)
}

type attrEquals struct {
	key, value string
}

// AttrEquals matches events whose attribute key has the given string form.
func AttrEquals(key, value string) Predicate {
	return attrEquals{key: key, value: value}
}

func (p attrEquals) Matches(e types.Event) bool {
	v, ok := e.StringAttr(p.key)
	return ok && v == p.value
}

func (p attrEquals) String() string    { return fmt.Sprintf("%s=%q", p.key, p.value) }
func (p attrEquals) Actions() []string { return nil }

type hasAttr struct {
	key string
}

// HasAttr matches events carrying a non-null attribute key.
func HasAttr(key string) Predicate {
	return hasAttr{key: key}
}

func (p hasAttr) Matches(e types.Event) bool {
	_, ok := e.Attr(p.key)
	return ok
}

func (p hasAttr) String() string    { return "has(" + p.key + ")" }
func (p hasAttr) Actions() []string { return nil }

func joinPredicates(preds []Predicate, sep string) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.String()
	}
	return strings.Join(parts, sep)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
