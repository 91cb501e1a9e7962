package types

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// PartitionKey identifies a day partition of the event log.
type PartitionKey struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// PartitionKeyOf returns the partition key for the UTC day containing t.
func PartitionKeyOf(t time.Time) PartitionKey {
	return PartitionKeyForDate(civil.DateOf(t.UTC()))
}

// PartitionKeyForDate returns the partition key for a calendar day.
func PartitionKeyForDate(d civil.Date) PartitionKey {
	return PartitionKey{Year: d.Year, Month: int(d.Month), Day: d.Day}
}

// Date returns the calendar day of the partition.
func (k PartitionKey) Date() civil.Date {
	return civil.Date{Year: k.Year, Month: time.Month(k.Month), Day: k.Day}
}

// IsZero reports whether the key is unset.
func (k PartitionKey) IsZero() bool {
	return k.Year == 0 && k.Month == 0 && k.Day == 0
}

// String renders the key as an object storage prefix.
func (k PartitionKey) String() string {
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d", k.Year, k.Month, k.Day)
}
