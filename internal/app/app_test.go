package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/sessionfunnel/internal/analysis"
	"github.com/arkilian/sessionfunnel/internal/config"
	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

var runDay = civil.Date{Year: 2021, Month: 3, Day: 10}

func newTestApp(t *testing.T, mode string) (*App, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Sink.Mode = mode
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, cfg
}

func sessionEvents(id string, start time.Time, actions ...string) []types.Event {
	events := make([]types.Event, len(actions))
	for i, action := range actions {
		events[i] = types.Event{
			SessionID: id,
			Action:    action,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return events
}

func searchDayEvents() []types.Event {
	base := time.Date(2021, 3, 10, 10, 0, 0, 0, time.UTC)
	var events []types.Event
	events = append(events, sessionEvents("A", base,
		"session_start", "search", "results_shown", "result_click", "result_engaged")...)
	events = append(events, sessionEvents("B", base.Add(time.Hour),
		"session_start", "search", "results_shown")...)
	events = append(events, sessionEvents("C", base.Add(2*time.Hour), "search", "results_shown")...)
	return events
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestApp_IngestAndRun(t *testing.T) {
	ctx := context.Background()
	a, cfg := newTestApp(t, "append")

	ingested, err := a.Ingest(ctx, searchDayEvents())
	require.NoError(t, err)
	assert.Equal(t, 10, ingested.Events)
	require.Len(t, ingested.Partitions, 1)

	count, err := a.Catalog().GetPartitionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	report, err := a.Run(ctx, runDay, []string{analysis.SearchFunnel})
	require.NoError(t, err)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, 2, report.Jobs[0].Sessions)
	assert.Equal(t, 1, report.Jobs[0].Rows)
	assert.Equal(t, 10, report.Scan.Events)

	db, err := sql.Open("sqlite3", cfg.Sink.Path)
	require.NoError(t, err)
	defer db.Close()

	var logDate string
	var sessions, search, shown, click, engaged int
	err = db.QueryRow(`SELECT log_date, sessions, search, results_shown, result_click, result_engaged
		FROM search_funnel_daily`).Scan(&logDate, &sessions, &search, &shown, &click, &engaged)
	require.NoError(t, err)
	assert.Contains(t, logDate, "2021-03-10")
	assert.Equal(t, []int{2, 2, 2, 1, 1}, []int{sessions, search, shown, click, engaged})
}

func TestApp_RerunModes(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		mode string
		want int
	}{
		{mode: "append", want: 2},
		{mode: "upsert", want: 1},
	} {
		t.Run(tc.mode, func(t *testing.T) {
			a, cfg := newTestApp(t, tc.mode)
			_, err := a.Ingest(ctx, searchDayEvents())
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				_, err := a.Run(ctx, runDay, []string{analysis.SearchFunnel})
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, countRows(t, cfg.Sink.Path, "search_funnel_daily"))
			assert.Equal(t, 2, countRows(t, cfg.Sink.Path, "_funnel_runs"))
		})
	}
}

func TestApp_RunAllJobs(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, "upsert")
	_, err := a.Ingest(ctx, searchDayEvents())
	require.NoError(t, err)

	report, err := a.Run(ctx, runDay, nil)
	require.NoError(t, err)
	require.Len(t, report.Jobs, len(analysis.Builtins()))
	for _, j := range report.Jobs {
		assert.NotEmpty(t, j.RunID, j.Name)
	}
}

func TestApp_RunMissingInput(t *testing.T) {
	ctx := context.Background()
	a, cfg := newTestApp(t, "append")
	_, err := a.Ingest(ctx, searchDayEvents())
	require.NoError(t, err)

	_, err = a.Run(ctx, civil.Date{Year: 2021, Month: 3, Day: 12}, nil)
	require.Error(t, err)
	assert.True(t, ferrors.Has(err, ferrors.ErrCategoryInput, ferrors.CodeInputUnavailable))

	db, err := sql.Open("sqlite3", cfg.Sink.Path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'search_funnel_daily'").Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApp_UnknownJob(t *testing.T) {
	a, _ := newTestApp(t, "append")
	_, err := a.Run(context.Background(), runDay, []string{"nope"})
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeInvalidDefinition, ferrors.GetCode(err))
}

func TestApp_IngestEmpty(t *testing.T) {
	a, _ := newTestApp(t, "append")
	_, err := a.Ingest(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeEmptyBatch, ferrors.GetCode(err))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Sink.Mode = "merge"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestApp_CompactKeepsResults(t *testing.T) {
	ctx := context.Background()
	a, cfg := newTestApp(t, "upsert")
	events := searchDayEvents()
	for i := 0; i < len(events); i += 3 {
		end := i + 3
		if end > len(events) {
			end = len(events)
		}
		_, err := a.Ingest(ctx, events[i:end])
		require.NoError(t, err)
	}
	count, err := a.Catalog().GetPartitionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	report, err := a.Compact(ctx, runDay, runDay, time.Now())
	require.NoError(t, err)
	require.Len(t, report.Merged, 1)
	assert.Equal(t, int64(10), report.Merged[0].Rows)

	count, err = a.Catalog().GetPartitionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = a.Run(ctx, runDay, []string{analysis.SearchFunnel})
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", cfg.Sink.Path)
	require.NoError(t, err)
	defer db.Close()
	var sessions, engaged int
	require.NoError(t, db.QueryRow(`SELECT sessions, result_engaged FROM search_funnel_daily`).Scan(&sessions, &engaged))
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 1, engaged)
}

func TestApp_RepeatedIngestCountsOnce(t *testing.T) {
	ctx := context.Background()
	a, cfg := newTestApp(t, "append")
	base := time.Date(2021, 3, 10, 10, 0, 0, 0, time.UTC)
	events := []types.Event{
		{EventID: "s1", SessionID: "A", Action: "session_start", Timestamp: base},
		{EventID: "f1", SessionID: "A", Action: "filter", Timestamp: base.Add(time.Minute),
			Attributes: map[string]interface{}{"filter_type": "lang", "filter_value": "en"}},
	}
	for i := 0; i < 2; i++ {
		_, err := a.Ingest(ctx, events)
		require.NoError(t, err)
	}

	_, err := a.Run(ctx, runDay, []string{analysis.FilterUsage})
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", cfg.Sink.Path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT "count" FROM filter_usage_daily
		WHERE filter_type = 'lang' AND filter_value = 'en'`).Scan(&n))
	assert.Equal(t, 1, n)
}
