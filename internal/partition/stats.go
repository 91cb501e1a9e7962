package partition

import (
	"sort"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

// StatsTracker tracks event-time bounds and distinct actions while a
// partition is built.
type StatsTracker struct {
	rowCount     int64
	minEventTime *int64
	maxEventTime *int64
	actions      map[string]struct{}
	sessions     map[string]struct{}
}

// NewStatsTracker creates a new statistics tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		actions:  make(map[string]struct{}),
		sessions: make(map[string]struct{}),
	}
}

// Update updates statistics with a new event.
func (s *StatsTracker) Update(e types.Event) {
	s.rowCount++

	ts := e.Timestamp.UnixNano()
	if s.minEventTime == nil || ts < *s.minEventTime {
		s.minEventTime = &ts
	}
	if s.maxEventTime == nil || ts > *s.maxEventTime {
		v := ts
		s.maxEventTime = &v
	}

	s.actions[e.Action] = struct{}{}
	s.sessions[e.SessionID] = struct{}{}
}

// RowCount returns the number of events seen.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}

// EventTimeBounds returns the min and max event time in Unix nanoseconds.
func (s *StatsTracker) EventTimeBounds() (min, max *int64) {
	return s.minEventTime, s.maxEventTime
}

// Actions returns the distinct actions seen, sorted.
func (s *StatsTracker) Actions() []string {
	out := make([]string, 0, len(s.actions))
	for a := range s.actions {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// SessionCount returns the number of distinct sessions seen.
func (s *StatsTracker) SessionCount() int {
	return len(s.sessions)
}
