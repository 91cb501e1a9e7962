// Package types provides the core data types shared across funnelstats.
package types

import (
	"strconv"
	"strings"
	"time"
)

// Event is a single user interaction read from the event log.
type Event struct {
	// EventID uniquely identifies the event; generated on ingest when absent
	EventID string `json:"event_id"`

	// Timestamp is when the event occurred (UTC)
	Timestamp time.Time `json:"timestamp"`

	// SessionID groups events into a session
	SessionID string `json:"session_id"`

	// Action identifies the kind of event (e.g. "search", "result_click")
	Action string `json:"action"`

	// Attributes holds event-specific values such as filter type or click position
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// IngestedAt is when the event reached the log; it determines the partition
	IngestedAt time.Time `json:"ingested_at,omitempty"`

	// Partition is the day partition the event was stored in
	Partition PartitionKey `json:"-"`
}

// Attr returns the raw attribute value for key.
func (e Event) Attr(key string) (interface{}, bool) {
	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// StringAttr returns the attribute as a string. Numbers are formatted without
// trailing zeros.
func (e Event) StringAttr(key string) (string, bool) {
	v, ok := e.Attr(key)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// FloatAttr returns the attribute as a float64. Numeric strings are parsed.
func (e Event) FloatAttr(key string) (float64, bool) {
	v, ok := e.Attr(key)
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// PartitionTime returns the instant used to route the event to a partition.
func (e Event) PartitionTime() time.Time {
	if !e.IngestedAt.IsZero() {
		return e.IngestedAt.UTC()
	}
	return e.Timestamp.UTC()
}
