// Package session reconstructs sessions from raw events and picks the
// sessions that started on a given day.
package session

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Session is every event sharing a session ID, in time order.
type Session struct {
	ID     string
	Events []types.Event
}

// StartFilter recognises the events that start a session.
type StartFilter interface {
	Matches(e types.Event) bool
}

// Interest is a session that started on the day being aggregated.
type Interest struct {
	Session    *Session
	StartTime  time.Time
	StartEvent types.Event
}

// Group groups events by session ID. Each session's events are sorted by
// timestamp, then event ID; sessions are returned sorted by ID. An event ID
// seen more than once is kept once, so an event ingested twice counts the
// same before and after compaction.
func Group(events []types.Event) []*Session {
	byID := make(map[string]*Session)
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.EventID != "" {
			if _, dup := seen[e.EventID]; dup {
				continue
			}
			seen[e.EventID] = struct{}{}
		}
		s, ok := byID[e.SessionID]
		if !ok {
			s = &Session{ID: e.SessionID}
			byID[e.SessionID] = s
		}
		s.Events = append(s.Events, e)
	}

	sessions := make([]*Session, 0, len(byID))
	for _, s := range byID {
		sort.SliceStable(s.Events, func(i, j int) bool {
			a, b := s.Events[i], s.Events[j]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.EventID < b.EventID
		})
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Extract returns the sessions whose start time falls on day (UTC). The
// start time is the earliest event matching start; sessions without one are
// dropped.
func Extract(sessions []*Session, start StartFilter, day civil.Date) []Interest {
	var out []Interest
	for _, s := range sessions {
		startEvent, ok := firstMatch(s, start)
		if !ok {
			continue
		}
		if civil.DateOf(startEvent.Timestamp.UTC()) != day {
			continue
		}
		out = append(out, Interest{
			Session:    s,
			StartTime:  startEvent.Timestamp,
			StartEvent: startEvent,
		})
	}
	return out
}

// firstMatch relies on the ordering established by Group.
func firstMatch(s *Session, start StartFilter) (types.Event, bool) {
	for _, e := range s.Events {
		if start.Matches(e) {
			return e, true
		}
	}
	return types.Event{}, false
}
