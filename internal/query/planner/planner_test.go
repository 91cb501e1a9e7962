package planner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/metrics"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/internal/storage"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

type fixture struct {
	catalog *manifest.SQLiteCatalog
	storage *storage.LocalStorage
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	catalog, err := manifest.NewCatalog(filepath.Join(dir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	store, err := storage.NewLocalStorage(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	return &fixture{catalog: catalog, storage: store, dir: dir}
}

// addDay builds a partition for day holding one event per action.
func (f *fixture) addDay(t *testing.T, day civil.Date, actions ...string) {
	t.Helper()
	ctx := context.Background()
	base := day.In(time.UTC).Add(12 * time.Hour)
	var events []types.Event
	for i, a := range actions {
		events = append(events, types.Event{
			SessionID: "s1",
			Action:    a,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	info, err := partition.NewBuilder(filepath.Join(f.dir, "build")).Build(ctx, events, types.PartitionKeyForDate(day))
	require.NoError(t, err)
	_, err = partition.NewMetadataGenerator().GenerateAndWrite(info)
	require.NoError(t, err)
	require.NoError(t, f.storage.Upload(ctx, info.SQLitePath, info.ObjectPath()))
	require.NoError(t, f.storage.Upload(ctx, info.MetadataPath, info.MetadataObjectPath()))
	require.NoError(t, f.catalog.RegisterPartition(ctx, info, info.ObjectPath(), info.MetadataObjectPath()))
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestDailyWindow(t *testing.T) {
	w := DailyWindow(date(2021, 3, 1))
	assert.Equal(t, date(2021, 2, 28), w.Start)
	assert.Equal(t, date(2021, 3, 2), w.End)
	assert.Equal(t, time.Date(2021, 3, 2, 1, 0, 0, 0, time.UTC), w.Cutoff)
	assert.Len(t, w.Days(), 3)

	w = DailyWindow(date(2021, 1, 1))
	assert.Equal(t, date(2020, 12, 31), w.Start)
}

func TestPlanner_Plan(t *testing.T) {
	f := newFixture(t)
	f.addDay(t, date(2021, 3, 9), "session_start")
	f.addDay(t, date(2021, 3, 10), "session_start", "search")
	f.addDay(t, date(2021, 3, 11), "search")
	f.addDay(t, date(2021, 3, 12), "session_start")

	m := metrics.New()
	p := NewPlanner(f.catalog, nil, Options{}, m)
	plan, err := p.Plan(context.Background(), date(2021, 3, 10), nil)
	require.NoError(t, err)

	assert.Len(t, plan.Partitions, 3)
	assert.Equal(t, "year=2021 AND month=3 AND day BETWEEN 9 AND 11", plan.Predicate.String())
	assert.Nil(t, plan.Actions)
	assert.Equal(t, 0, plan.Stats.Pruned)
	for _, rec := range plan.Partitions {
		assert.NotEqual(t, 12, rec.Key.Day)
	}
}

func TestPlanner_MissingDataDay(t *testing.T) {
	f := newFixture(t)
	f.addDay(t, date(2021, 3, 9), "session_start")

	_, err := NewPlanner(f.catalog, nil, Options{}, nil).Plan(context.Background(), date(2021, 3, 10), nil)
	require.Error(t, err)
	assert.True(t, ferrors.Has(err, ferrors.ErrCategoryInput, ferrors.CodeInputUnavailable))
}

func TestPlanner_RequireCompleteWindow(t *testing.T) {
	f := newFixture(t)
	f.addDay(t, date(2021, 3, 10), "session_start")

	lenient := NewPlanner(f.catalog, nil, Options{}, nil)
	_, err := lenient.Plan(context.Background(), date(2021, 3, 10), nil)
	require.NoError(t, err)

	strict := NewPlanner(f.catalog, nil, Options{RequireCompleteWindow: true}, nil)
	_, err = strict.Plan(context.Background(), date(2021, 3, 10), nil)
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeInputUnavailable, ferrors.GetCode(err))
}

func TestPlanner_BloomPruning(t *testing.T) {
	f := newFixture(t)
	f.addDay(t, date(2021, 3, 9), "heartbeat")
	f.addDay(t, date(2021, 3, 10), "session_start", "search")
	f.addDay(t, date(2021, 3, 11), "heartbeat")

	pruner := NewPruner(f.storage, filepath.Join(f.dir, "meta-cache"))
	m := metrics.New()
	p := NewPlanner(f.catalog, pruner, Options{BloomPruning: true}, m)

	plan, err := p.Plan(context.Background(), date(2021, 3, 10), []string{"session_start", "search"})
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Stats.Candidates)
	require.Len(t, plan.Partitions, 1)
	assert.Equal(t, 10, plan.Partitions[0].Key.Day)
	assert.Equal(t, 2, plan.Stats.Pruned)

	// Without actions nothing is pruned.
	plan, err = p.Plan(context.Background(), date(2021, 3, 10), nil)
	require.NoError(t, err)
	assert.Len(t, plan.Partitions, 3)
}

func TestPruner_KeepsPartitionOnMissingSidecar(t *testing.T) {
	f := newFixture(t)
	pruner := NewPruner(f.storage, t.TempDir())
	records := []*manifest.PartitionRecord{{PartitionID: "gone", MetaPath: "events/gone.meta.json"}}
	kept := pruner.Prune(context.Background(), records, []string{"search"})
	assert.Len(t, kept, 1)
}
