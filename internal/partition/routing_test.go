package partition

import (
	"testing"
	"time"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

func TestRoute_UsesIngestionTime(t *testing.T) {
	e := types.Event{
		Timestamp:  time.Date(2021, 3, 9, 23, 59, 0, 0, time.UTC),
		IngestedAt: time.Date(2021, 3, 10, 0, 2, 0, 0, time.UTC),
	}
	key := Route(e)
	if key != (types.PartitionKey{Year: 2021, Month: 3, Day: 10}) {
		t.Errorf("expected ingestion day partition, got %s", key)
	}
}

func TestRoute_FallsBackToEventTime(t *testing.T) {
	// 2021-03-10 01:30 in UTC+2 is still 2021-03-09 in UTC
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := types.Event{Timestamp: time.Date(2021, 3, 10, 1, 30, 0, 0, loc)}
	key := Route(e)
	if key != (types.PartitionKey{Year: 2021, Month: 3, Day: 9}) {
		t.Errorf("expected UTC day partition, got %s", key)
	}
}

func TestRouteEvents(t *testing.T) {
	events := []types.Event{
		{EventID: "a", Timestamp: time.Date(2021, 3, 10, 10, 0, 0, 0, time.UTC)},
		{EventID: "b", Timestamp: time.Date(2021, 3, 11, 10, 0, 0, 0, time.UTC)},
		{EventID: "c", Timestamp: time.Date(2021, 3, 10, 11, 0, 0, 0, time.UTC)},
	}

	groups, err := RouteEvents(events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(groups))
	}

	keys := SortedKeys(groups)
	if keys[0].Day != 10 || keys[1].Day != 11 {
		t.Errorf("keys not in calendar order: %v", keys)
	}
	first := groups[keys[0]]
	if len(first) != 2 {
		t.Fatalf("expected 2 events on day 10, got %d", len(first))
	}
	if first[0].Partition != keys[0] {
		t.Errorf("routed event not stamped with its partition: %v", first[0].Partition)
	}
}

func TestRouteEvents_MissingTimestamp(t *testing.T) {
	_, err := RouteEvents([]types.Event{{EventID: "x"}})
	if err == nil {
		t.Fatal("expected error for event without timestamp")
	}
}
