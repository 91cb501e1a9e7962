package compaction

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/metrics"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/internal/storage"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Config holds configuration for compaction.
type Config struct {
	// MaxPartitionSize is the size below which partitions are merged
	MaxPartitionSize int64

	// TTL is how long replaced partitions are kept before deletion
	TTL time.Duration

	// WorkDir holds downloaded sources and merged partitions
	WorkDir string

	// Concurrency bounds parallel source downloads
	Concurrency int
}

// Compactor merges small partitions day by day and collects the partitions
// it replaced.
type Compactor struct {
	catalog   manifest.Catalog
	storage   storage.ObjectStorage
	finder    *CandidateFinder
	merger    *Merger
	validator *Validator
	gc        *GarbageCollector
	metrics   *metrics.Collectors
}

// GroupReport describes one merged day.
type GroupReport struct {
	Key         types.PartitionKey
	Sources     int
	PartitionID string
	Rows        int64
}

// Report summarizes a compaction pass.
type Report struct {
	Merged []GroupReport
	GC     *GCResult
}

// New creates a compactor.
func New(cfg Config, catalog manifest.Catalog, store storage.ObjectStorage, m *metrics.Collectors) *Compactor {
	downloader := storage.NewBatchDownloader(store, cfg.Concurrency, filepath.Join(cfg.WorkDir, "sources"))
	return &Compactor{
		catalog:   catalog,
		storage:   store,
		finder:    NewCandidateFinder(catalog, cfg.MaxPartitionSize),
		merger:    NewMerger(downloader, filepath.Join(cfg.WorkDir, "merged")),
		validator: NewValidator(),
		gc:        NewGarbageCollector(catalog, store, cfg.TTL),
		metrics:   m,
	}
}

// Compact merges the small partitions of every day in [start, end], then
// garbage collects partitions replaced more than the TTL before now. A day
// that fails to merge keeps its sources and does not stop the other days;
// the failures are returned together.
func (c *Compactor) Compact(ctx context.Context, start, end civil.Date, now time.Time) (*Report, error) {
	if end.Before(start) {
		return nil, ferrors.NewValidationError(ferrors.CodeInvalidRange,
			fmt.Sprintf("compaction: end day %s is before start day %s", end, start))
	}

	var groups []*CandidateGroup
	for _, r := range monthRanges(start, end) {
		pred, err := partition.SelectRange(r[0], r[1])
		if err != nil {
			return nil, err
		}
		found, err := c.finder.FindCandidates(ctx, pred)
		if err != nil {
			return nil, fmt.Errorf("compaction: failed to find candidates: %w", err)
		}
		groups = append(groups, found...)
	}

	report := &Report{}
	var errs error
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		gr, err := c.compactGroup(ctx, group)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compaction: day %s: %w", group.Key, err))
			continue
		}
		report.Merged = append(report.Merged, *gr)
	}

	gcResult, err := c.gc.Collect(ctx, now)
	report.GC = gcResult
	return report, multierr.Append(errs, err)
}

// monthRanges splits [start, end] at month boundaries.
func monthRanges(start, end civil.Date) [][2]civil.Date {
	var ranges [][2]civil.Date
	for !end.Before(start) {
		last := civil.DateOf(time.Date(start.Year, start.Month+1, 0, 0, 0, 0, 0, time.UTC))
		if end.Before(last) {
			last = end
		}
		ranges = append(ranges, [2]civil.Date{start, last})
		start = last.AddDays(1)
	}
	return ranges
}

// compactGroup runs merge, validate, upload and catalog swap for one day.
// Objects are uploaded before the catalog changes, so a failure at any step
// leaves the sources live.
func (c *Compactor) compactGroup(ctx context.Context, group *CandidateGroup) (*GroupReport, error) {
	log := logging.FromContext(ctx).With(zap.String("day", group.Key.String()))
	log.Infow("Compacting partitions", zap.Int("partitions", len(group.Partitions)))

	result, err := c.merger.Merge(ctx, group)
	if err != nil {
		return nil, err
	}
	defer c.merger.Cleanup(result)

	vr, err := c.validator.Validate(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if !vr.Valid {
		return nil, fmt.Errorf("validation failed: %v", vr.Errors)
	}

	info := result.Info
	if err := c.storage.Upload(ctx, info.SQLitePath, info.ObjectPath()); err != nil {
		return nil, fmt.Errorf("failed to upload merged partition: %w", err)
	}
	if err := c.storage.Upload(ctx, info.MetadataPath, info.MetadataObjectPath()); err != nil {
		return nil, fmt.Errorf("failed to upload metadata: %w", err)
	}
	if err := c.catalog.ReplacePartitions(ctx, info, info.ObjectPath(), info.MetadataObjectPath(), result.SourceIDs); err != nil {
		return nil, err
	}
	c.metrics.ObserveCompaction(len(result.SourceIDs))

	log.Infow("Compacted partitions",
		zap.String("partition", info.PartitionID),
		zap.Int("sources", len(result.SourceIDs)),
		zap.Int64("rows", info.RowCount))
	return &GroupReport{
		Key:         group.Key,
		Sources:     len(result.SourceIDs),
		PartitionID: info.PartitionID,
		Rows:        info.RowCount,
	}, nil
}
