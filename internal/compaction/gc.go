package compaction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/storage"
)

// DefaultTTL is how long replaced partitions are kept for runs that planned
// them before the replacement.
const DefaultTTL = 7 * 24 * time.Hour

// GarbageCollector removes compacted source partitions after the TTL.
type GarbageCollector struct {
	catalog manifest.Catalog
	storage storage.ObjectStorage
	ttl     time.Duration
}

// NewGarbageCollector creates a garbage collector. A negative ttl selects
// DefaultTTL; zero collects every replaced partition.
func NewGarbageCollector(catalog manifest.Catalog, store storage.ObjectStorage, ttl time.Duration) *GarbageCollector {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	return &GarbageCollector{catalog: catalog, storage: store, ttl: ttl}
}

// GCResult holds the outcome of a garbage collection pass.
type GCResult struct {
	DeletedPartitions []string
	DeletedObjects    []string
}

// Collect deletes the objects of partitions compacted more than the TTL
// before now, then their catalog records. A partition whose objects could
// not be deleted keeps its record so a later pass retries it.
func (gc *GarbageCollector) Collect(ctx context.Context, now time.Time) (*GCResult, error) {
	log := logging.FromContext(ctx)

	expired, err := gc.catalog.CompactedBefore(ctx, now.Add(-gc.ttl))
	if err != nil {
		return nil, fmt.Errorf("compaction/gc: failed to find expired partitions: %w", err)
	}

	result := &GCResult{}
	var errs error
	for _, p := range expired {
		var objErr error
		for _, obj := range []string{p.ObjectPath, p.MetaPath} {
			if err := gc.storage.Delete(ctx, obj); err != nil {
				objErr = multierr.Append(objErr, fmt.Errorf("%s: %w", obj, err))
				continue
			}
			result.DeletedObjects = append(result.DeletedObjects, obj)
		}
		if objErr != nil {
			errs = multierr.Append(errs, objErr)
			continue
		}
		result.DeletedPartitions = append(result.DeletedPartitions, p.PartitionID)
	}

	if err := gc.catalog.DeletePartitions(ctx, result.DeletedPartitions); err != nil {
		return result, err
	}
	if len(result.DeletedPartitions) > 0 {
		log.Infow("Deleted replaced partitions", zap.Int("partitions", len(result.DeletedPartitions)))
	}
	if errs != nil {
		log.Warnw("Some replaced partitions could not be deleted", zap.Error(errs))
	}
	return result, errs
}

// TTL returns the configured time-to-live of replaced partitions.
func (gc *GarbageCollector) TTL() time.Duration {
	return gc.ttl
}
