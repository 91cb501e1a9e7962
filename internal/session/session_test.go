package session

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

type actionFilter string

func (a actionFilter) Matches(e types.Event) bool { return e.Action == string(a) }

var day = civil.Date{Year: 2021, Month: 3, Day: 10}

func at(h, m int) time.Time {
	return time.Date(2021, 3, 10, h, m, 0, 0, time.UTC)
}

func TestGroup(t *testing.T) {
	events := []types.Event{
		{EventID: "3", SessionID: "B", Action: "search", Timestamp: at(10, 0)},
		{EventID: "2", SessionID: "A", Action: "search", Timestamp: at(9, 0)},
		{EventID: "1", SessionID: "A", Action: "session_start", Timestamp: at(9, 0)},
		{EventID: "0", SessionID: "A", Action: "session_start", Timestamp: at(8, 0)},
	}
	sessions := Group(events)
	require.Len(t, sessions, 2)
	assert.Equal(t, "A", sessions[0].ID)
	assert.Equal(t, "B", sessions[1].ID)

	var ids []string
	for _, e := range sessions[0].Events {
		ids = append(ids, e.EventID)
	}
	assert.Equal(t, []string{"0", "1", "2"}, ids)
}

func TestExtract(t *testing.T) {
	events := []types.Event{
		// A starts on the day, twice; the earliest wins.
		{EventID: "a1", SessionID: "A", Action: "session_start", Timestamp: at(9, 30)},
		{EventID: "a0", SessionID: "A", Action: "session_start", Timestamp: at(9, 0)},
		// B never starts.
		{EventID: "b1", SessionID: "B", Action: "search", Timestamp: at(9, 0)},
		// C started the day before.
		{EventID: "c1", SessionID: "C", Action: "session_start", Timestamp: time.Date(2021, 3, 9, 23, 59, 0, 0, time.UTC)},
		{EventID: "c2", SessionID: "C", Action: "search", Timestamp: at(0, 1)},
		// D starts just before midnight on the day.
		{EventID: "d1", SessionID: "D", Action: "session_start", Timestamp: time.Date(2021, 3, 10, 23, 59, 59, 0, time.UTC)},
		// E starts on the next day.
		{EventID: "e1", SessionID: "E", Action: "session_start", Timestamp: time.Date(2021, 3, 11, 0, 0, 0, 0, time.UTC)},
	}

	interests := Extract(Group(events), actionFilter("session_start"), day)
	require.Len(t, interests, 2)
	assert.Equal(t, "A", interests[0].Session.ID)
	assert.Equal(t, at(9, 0), interests[0].StartTime)
	assert.Equal(t, "a0", interests[0].StartEvent.EventID)
	assert.Equal(t, "D", interests[1].Session.ID)
}

func TestExtract_NonUTCTimestamps(t *testing.T) {
	// 01:00 in UTC+2 is 23:00 the previous day in UTC.
	zone := time.FixedZone("UTC+2", 2*60*60)
	events := []types.Event{
		{EventID: "x", SessionID: "X", Action: "session_start", Timestamp: time.Date(2021, 3, 11, 1, 0, 0, 0, zone)},
	}
	interests := Extract(Group(events), actionFilter("session_start"), day)
	require.Len(t, interests, 1)
}

func TestGroup_DropsRepeatedEventIDs(t *testing.T) {
	events := []types.Event{
		{EventID: "s", SessionID: "A", Action: "session_start", Timestamp: at(9, 0)},
		{EventID: "f", SessionID: "A", Action: "filter", Timestamp: at(9, 1)},
		{EventID: "f", SessionID: "A", Action: "filter", Timestamp: at(9, 1)},
		{SessionID: "A", Action: "filter", Timestamp: at(9, 2)},
		{SessionID: "A", Action: "filter", Timestamp: at(9, 2)},
	}
	sessions := Group(events)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Events, 4)
}
