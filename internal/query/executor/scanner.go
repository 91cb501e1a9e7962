// Package executor reads the events selected by a scan plan.
package executor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/metrics"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/internal/query/planner"
	"github.com/arkilian/sessionfunnel/internal/storage"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// ScanStats describes one scan.
type ScanStats struct {
	Partitions int
	CacheHits  int
	Downloads  int
	Events     int
}

// Scanner downloads planned partitions and reads their events in parallel.
type Scanner struct {
	downloader  *storage.BatchDownloader
	concurrency int
	metrics     *metrics.Collectors
}

// NewScanner creates a scanner reading at most concurrency partitions at a
// time.
func NewScanner(downloader *storage.BatchDownloader, concurrency int, m *metrics.Collectors) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{
		downloader:  downloader,
		concurrency: concurrency,
		metrics:     m,
	}
}

// Scan returns every event of the planned partitions. Any partition that
// cannot be fetched or read fails the whole scan with INPUT_UNAVAILABLE, so
// a run never aggregates a short count.
func (s *Scanner) Scan(ctx context.Context, plan *planner.Plan) ([]types.Event, *ScanStats, error) {
	log := logging.FromContext(ctx)
	stats := &ScanStats{Partitions: len(plan.Partitions)}
	if len(plan.Partitions) == 0 {
		return nil, stats, nil
	}

	objectPaths := make([]string, len(plan.Partitions))
	for i, p := range plan.Partitions {
		objectPaths[i] = p.ObjectPath
	}
	downloaded, err := s.downloader.Download(ctx, objectPaths)
	if err != nil {
		return nil, stats, ferrors.NewInputUnavailable("failed to fetch planned partitions", err)
	}
	stats.CacheHits = downloaded.CacheHits
	stats.Downloads = downloaded.Downloads

	var (
		mu     sync.Mutex
		events []types.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range plan.Partitions {
		record := p
		g.Go(func() error {
			local := downloaded.LocalPaths[record.ObjectPath]
			partEvents, err := partition.ReadEvents(gctx, local, record.Key, plan.Actions)
			if err != nil {
				return fmt.Errorf("partition %s: %w", record.PartitionID, err)
			}
			mu.Lock()
			events = append(events, partEvents...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, ferrors.NewInputUnavailable("failed to read planned partitions", err)
	}

	// Partitions finish in any order; make the result deterministic.
	sort.Slice(events, func(i, j int) bool {
		if events[i].SessionID != events[j].SessionID {
			return events[i].SessionID < events[j].SessionID
		}
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})

	stats.Events = len(events)
	s.metrics.ObserveScan(len(events))
	log.Infow("Scanned partitions",
		"partitions", stats.Partitions,
		"cacheHits", stats.CacheHits,
		"downloads", stats.Downloads,
		"events", stats.Events)
	return events, stats, nil
}

// Evict removes the local copies of the planned partitions.
func (s *Scanner) Evict(plan *planner.Plan) error {
	var errs error
	for _, p := range plan.Partitions {
		err := os.Remove(s.downloader.LocalPath(p.ObjectPath))
		if err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
