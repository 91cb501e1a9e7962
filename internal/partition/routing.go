package partition

import (
	"fmt"
	"sort"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Route returns the day partition for an event. The ingestion time decides
// the partition, so it may differ from the event's own day.
func Route(e types.Event) types.PartitionKey {
	return types.PartitionKeyOf(e.PartitionTime())
}

// RouteEvents groups events by their day partition and stamps each event
// with the key it was routed to.
func RouteEvents(events []types.Event) (map[types.PartitionKey][]types.Event, error) {
	groups := make(map[types.PartitionKey][]types.Event)
	for i, e := range events {
		if e.PartitionTime().IsZero() {
			return nil, fmt.Errorf("routing: event %d (%s) has no timestamp", i, e.EventID)
		}
		key := Route(e)
		e.Partition = key
		groups[key] = append(groups[key], e)
	}
	return groups, nil
}

// SortedKeys returns the keys of a routed batch in calendar order.
func SortedKeys(groups map[types.PartitionKey][]types.Event) []types.PartitionKey {
	keys := make([]types.PartitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Date().Before(keys[j].Date())
	})
	return keys
}
