package types

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
)

func TestEventAttributes(t *testing.T) {
	e := Event{Attributes: map[string]interface{}{
		"position":   float64(3),
		"ratio":      0.25,
		"label":      "main",
		"padded":     " 12.5 ",
		"flag":       true,
		"missing":    nil,
		"structured": []interface{}{1},
	}}

	s, ok := e.StringAttr("position")
	assert.True(t, ok)
	assert.Equal(t, "3", s)
	s, _ = e.StringAttr("ratio")
	assert.Equal(t, "0.25", s)
	s, _ = e.StringAttr("flag")
	assert.Equal(t, "true", s)

	_, ok = e.StringAttr("missing")
	assert.False(t, ok)
	_, ok = e.StringAttr("structured")
	assert.False(t, ok)

	f, ok := e.FloatAttr("padded")
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)
	_, ok = e.FloatAttr("label")
	assert.False(t, ok)

	_, ok = Event{}.Attr("anything")
	assert.False(t, ok)
}

func TestPartitionTime(t *testing.T) {
	ts := time.Date(2021, 3, 10, 23, 59, 0, 0, time.UTC)
	e := Event{Timestamp: ts}
	assert.Equal(t, PartitionKey{Year: 2021, Month: 3, Day: 10}, PartitionKeyOf(e.PartitionTime()))

	e.IngestedAt = ts.Add(2 * time.Minute)
	assert.Equal(t, PartitionKey{Year: 2021, Month: 3, Day: 11}, PartitionKeyOf(e.PartitionTime()))

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, 11, PartitionKeyOf(time.Date(2021, 3, 10, 20, 0, 0, 0, est)).Day)
}

func TestPartitionKey(t *testing.T) {
	d := civil.Date{Year: 2020, Month: 2, Day: 29}
	k := PartitionKeyForDate(d)
	assert.Equal(t, d, k.Date())
	assert.Equal(t, "year=2020/month=02/day=29", k.String())
	assert.False(t, k.IsZero())
	assert.True(t, PartitionKey{}.IsZero())
}

func TestOptional(t *testing.T) {
	some := Some(0)
	v, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, some.OrElse(7))

	none := None[int]()
	assert.False(t, none.IsPresent())
	assert.Equal(t, 7, none.OrElse(7))
}

func TestAggregateRow(t *testing.T) {
	row := AggregateRow{
		LogDate:    civil.Date{Year: 2021, Month: 3, Day: 10},
		Dimensions: []Dimension{{Name: "namespace", Value: "main"}, {Name: "variant", Value: "add"}},
		Metrics:    []Metric{{Name: "sessions", Kind: MetricCount, Value: 4}},
	}
	assert.Equal(t, `2021-03-10|"main"|"add"`, row.Key())

	m, ok := row.Metric("sessions")
	assert.True(t, ok)
	assert.Equal(t, float64(4), m.Value)
	_, ok = row.Metric("median_position")
	assert.False(t, ok)

	ns, ok := row.Dimension("namespace")
	assert.True(t, ok)
	assert.Equal(t, "main", ns)
	_, ok = row.Dimension("path_type")
	assert.False(t, ok)
}

func TestAggregateRow_KeyDistinguishesSeparators(t *testing.T) {
	day := civil.Date{Year: 2021, Month: 3, Day: 10}
	a := AggregateRow{LogDate: day, Dimensions: []Dimension{
		{Name: "filter_type", Value: "a|b"}, {Name: "filter_value", Value: "c"}}}
	b := AggregateRow{LogDate: day, Dimensions: []Dimension{
		{Name: "filter_type", Value: "a"}, {Name: "filter_value", Value: "b|c"}}}
	assert.NotEqual(t, a.Key(), b.Key())

	quoted := AggregateRow{LogDate: day, Dimensions: []Dimension{
		{Name: "filter_type", Value: `a"|"b`}, {Name: "filter_value", Value: "c"}}}
	assert.NotEqual(t, quoted.Key(), a.Key())
	assert.NotEqual(t, quoted.Key(), b.Key())
}
