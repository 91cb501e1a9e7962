package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_Observe(t *testing.T) {
	c := New()
	c.ObservePlan(5, 2)
	c.ObserveScan(120)
	c.ObserveSessions("search_funnel", 3)
	c.ObserveRows("search_funnel", "append", 1)
	c.ObserveRows("search_funnel", "append", 1)
	c.IgnoredError("unbound_result")
	c.ObserveCompaction(4)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.PartitionsSelected))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PartitionsPruned))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.EventsScanned))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.PartitionsCompacted))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SessionsOfInterest.WithLabelValues("search_funnel")))

	expected := `
# HELP funnelstats_rows_written_total Total number of aggregate rows written
# TYPE funnelstats_rows_written_total counter
funnelstats_rows_written_total{job="search_funnel",mode="append"} 2
`
	err := testutil.CollectAndCompare(c.RowsWritten, strings.NewReader(expected), "funnelstats_rows_written_total")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.IgnoredErrors.WithLabelValues("unbound_result")))
}

func TestCollectors_Nil(t *testing.T) {
	var c *Collectors
	c.ObservePlan(1, 1)
	c.ObserveScan(1)
	c.ObserveSessions("x", 1)
	c.ObserveRows("x", "append", 1)
	c.IgnoredError("x")
	c.ObserveRunDuration(1)
	assert.NoError(t, c.Push(context.Background(), "http://unused", "job"))
}

func TestNewWithRegistry_Duplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWithRegistry(reg, reg)
	require.NoError(t, err)
	_, err = NewWithRegistry(reg, reg)
	assert.Error(t, err)
}

func TestCollectors_Push(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Contains(t, r.URL.Path, "/metrics/job/funnelstats")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New()
	c.ObserveScan(10)
	require.NoError(t, c.Push(context.Background(), server.URL, "funnelstats"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.NoError(t, c.Push(context.Background(), "", "funnelstats"))
}
