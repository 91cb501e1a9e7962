// Package app wires storage, catalog, planner, scanner and sink into the
// ingest and daily run operations of funnelstats.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arkilian/sessionfunnel/internal/analysis"
	"github.com/arkilian/sessionfunnel/internal/compaction"
	"github.com/arkilian/sessionfunnel/internal/config"
	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/metrics"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/internal/query/executor"
	"github.com/arkilian/sessionfunnel/internal/query/planner"
	"github.com/arkilian/sessionfunnel/internal/session"
	"github.com/arkilian/sessionfunnel/internal/sink"
	"github.com/arkilian/sessionfunnel/internal/storage"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// App owns the shared resources of one funnelstats process.
type App struct {
	cfg *config.Config

	storage storage.ObjectStorage
	catalog *manifest.SQLiteCatalog
	planner *planner.Planner
	scanner *executor.Scanner
	sink    *sink.SQLSink
	metrics *metrics.Collectors

	jobs []analysis.Job
}

// IngestResult describes the partitions written by one ingest.
type IngestResult struct {
	Events     int
	Partitions []*partition.PartitionInfo
}

// JobReport summarizes one job of a run.
type JobReport struct {
	Name     string
	Table    string
	Sessions int
	Rows     int
	RunID    string
}

// RunReport summarizes a daily run.
type RunReport struct {
	Day      civil.Date
	Plan     *planner.Plan
	Scan     *executor.ScanStats
	Jobs     []JobReport
	Duration time.Duration
}

// New resolves and validates cfg, then opens every shared resource.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	jobs, err := LoadJobs(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, jobs: jobs, metrics: metrics.New()}
	if err := a.initSharedResources(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// LoadJobs returns the built-in jobs merged with the jobs file, restricted
// to the enabled set. Every returned job is valid.
func LoadJobs(cfg *config.Config) ([]analysis.Job, error) {
	jobs := analysis.Builtins()
	if cfg.Jobs.File != "" {
		extra, err := analysis.LoadFile(cfg.Jobs.File)
		if err != nil {
			return nil, err
		}
		jobs = analysis.Merge(jobs, extra)
	}
	jobs, err := analysis.Select(jobs, cfg.Jobs.Enabled)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3cfg.Region = a.cfg.Storage.S3.Region
		}
		s3cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3cfg)
	default:
		err = fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.catalog, err = manifest.NewCatalog(a.cfg.ManifestPath())
	if err != nil {
		return err
	}

	q := a.cfg.Query
	pruner := planner.NewPruner(a.storage, filepath.Join(q.DownloadDir, "meta"))
	a.planner = planner.NewPlanner(a.catalog, pruner, planner.Options{
		RequireCompleteWindow: q.RequireCompleteWindow,
		BloomPruning:          q.BloomPruning,
	}, a.metrics)
	downloader := storage.NewBatchDownloader(a.storage, q.Concurrency, q.DownloadDir)
	a.scanner = executor.NewScanner(downloader, q.Concurrency, a.metrics)

	a.sink, err = sink.Open(sink.Config{
		Driver: sink.Driver(a.cfg.Sink.Driver),
		Path:   a.cfg.Sink.Path,
		Mode:   sink.Mode(a.cfg.Sink.Mode),
	}, a.metrics)
	return err
}

// Jobs returns the jobs enabled by the configuration.
func (a *App) Jobs() []analysis.Job {
	return a.jobs
}

// Metrics returns the run collectors.
func (a *App) Metrics() *metrics.Collectors {
	return a.metrics
}

// Catalog returns the partition catalog.
func (a *App) Catalog() *manifest.SQLiteCatalog {
	return a.catalog
}

// Ingest routes events into day partitions, uploads each partition with
// its sidecar and registers it in the catalog.
func (a *App) Ingest(ctx context.Context, events []types.Event) (*IngestResult, error) {
	if len(events) == 0 {
		return nil, ferrors.NewValidationError(ferrors.CodeEmptyBatch, "ingest: no events")
	}
	log := logging.FromContext(ctx)

	groups, err := partition.RouteEvents(events)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCategoryValidation, ferrors.CodeInvalidEvent, "ingest: cannot route events", err)
	}

	builder := partition.NewBuilder(a.cfg.Ingest.PartitionDir)
	metaGen := partition.NewMetadataGenerator()
	result := &IngestResult{Events: len(events)}

	for _, key := range partition.SortedKeys(groups) {
		info, err := builder.Build(ctx, groups[key], key)
		if err != nil {
			return result, err
		}
		if _, err := metaGen.GenerateAndWrite(info); err != nil {
			cleanup(info)
			return result, fmt.Errorf("ingest: failed to write metadata: %w", err)
		}

		if err := a.storage.Upload(ctx, info.SQLitePath, info.ObjectPath()); err != nil {
			cleanup(info)
			return result, ferrors.NewStorageError(ferrors.CodeUploadFailed, "ingest: failed to upload partition", err)
		}
		if err := a.storage.Upload(ctx, info.MetadataPath, info.MetadataObjectPath()); err != nil {
			cleanup(info)
			return result, ferrors.NewStorageError(ferrors.CodeUploadFailed, "ingest: failed to upload metadata", err)
		}
		if err := a.catalog.RegisterPartition(ctx, info, info.ObjectPath(), info.MetadataObjectPath()); err != nil {
			cleanup(info)
			return result, err
		}
		cleanup(info)

		log.Infow("Partition ingested",
			zap.String("partition", info.PartitionID),
			zap.String("day", key.String()),
			zap.Int64("rows", info.RowCount))
		result.Partitions = append(result.Partitions, info)
	}
	return result, nil
}

func cleanup(info *partition.PartitionInfo) {
	os.Remove(info.SQLitePath)
	os.Remove(info.MetadataPath)
}

// Compact merges the small partitions of every day in [start, end] and
// deletes partitions replaced more than the configured TTL before now.
func (a *App) Compact(ctx context.Context, start, end civil.Date, now time.Time) (*compaction.Report, error) {
	c := compaction.New(compaction.Config{
		MaxPartitionSize: a.cfg.Compaction.MaxPartitionSize,
		TTL:              time.Duration(a.cfg.Compaction.TTLDays) * 24 * time.Hour,
		WorkDir:          a.cfg.CompactionDir(),
		Concurrency:      a.cfg.Query.Concurrency,
	}, a.catalog, a.storage, a.metrics)
	return c.Compact(ctx, start, end, now)
}

// Plan returns the scan plan a run of the named jobs would use for day.
func (a *App) Plan(ctx context.Context, day civil.Date, jobNames []string) (*planner.Plan, []analysis.Job, error) {
	jobs, err := analysis.Select(a.jobs, jobNames)
	if err != nil {
		return nil, nil, err
	}
	plan, err := a.planner.Plan(ctx, day, analysis.UnionActions(jobs))
	if err != nil {
		return nil, nil, err
	}
	return plan, jobs, nil
}

// Run computes and writes the daily statistics of the named jobs for day.
// Empty jobNames runs every enabled job. Definitions are validated before
// any input is read; a missing input fails the run before any row is
// written.
func (a *App) Run(ctx context.Context, day civil.Date, jobNames []string) (*RunReport, error) {
	started := time.Now()
	log := logging.FromContext(ctx).With(zap.String("day", day.String()))

	jobs, err := analysis.Select(a.jobs, jobNames)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
	}

	plan, err := a.planner.Plan(ctx, day, analysis.UnionActions(jobs))
	if err != nil {
		return nil, err
	}
	report := &RunReport{Day: day, Plan: plan}

	events, scanStats, err := a.scanner.Scan(ctx, plan)
	if err != nil {
		return nil, err
	}
	report.Scan = scanStats
	defer a.evict(ctx, plan)

	sessions := session.Group(events)
	log.Infow("Scanned window",
		zap.Int("partitions", scanStats.Partitions),
		zap.Int("events", scanStats.Events),
		zap.Int("sessions", len(sessions)))

	for _, job := range jobs {
		res, err := analysis.Evaluate(job, sessions, plan.Window)
		if err != nil {
			return report, err
		}
		a.metrics.ObserveSessions(job.Name, len(res.Outcomes))

		rec, err := a.sink.Write(ctx, job.Name, job.OutputTable(), day, res.Rows)
		if err != nil {
			return report, err
		}
		report.Jobs = append(report.Jobs, JobReport{
			Name:     job.Name,
			Table:    job.OutputTable().Name,
			Sessions: len(res.Outcomes),
			Rows:     rec.Rows,
			RunID:    rec.RunID,
		})
	}

	report.Duration = time.Since(started)
	a.metrics.ObserveRunDuration(report.Duration.Seconds())
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		log.Warnw("Failed to push metrics", zap.Error(err))
	}
	log.Infow("Run complete", zap.Int("jobs", len(report.Jobs)), zap.Duration("duration", report.Duration))
	return report, nil
}

func (a *App) evict(ctx context.Context, plan *planner.Plan) {
	if a.cfg.Query.KeepDownloads {
		return
	}
	if err := a.scanner.Evict(plan); err != nil {
		logging.FromContext(ctx).Warnw("Failed to remove downloaded partitions", zap.Error(err))
	}
}

// Close releases the sink and the catalog.
func (a *App) Close() error {
	var err error
	if a.sink != nil {
		err = multierr.Append(err, a.sink.Close())
	}
	if a.catalog != nil {
		err = multierr.Append(err, a.catalog.Close())
	}
	return err
}
