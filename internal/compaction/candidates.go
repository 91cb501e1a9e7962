// Package compaction merges the small partitions that batched ingest leaves
// behind into one partition per day, and garbage collects the replaced
// partitions once no run can still be reading them.
package compaction

import (
	"context"

	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// DefaultMaxPartitionSize is the size below which a partition is a
// compaction candidate (32MB).
const DefaultMaxPartitionSize int64 = 32 * 1024 * 1024

// CandidateGroup is a set of partitions of one day to merge together.
type CandidateGroup struct {
	Key        types.PartitionKey
	Partitions []*manifest.PartitionRecord
}

// CandidateFinder identifies partitions eligible for compaction.
type CandidateFinder struct {
	catalog          manifest.CatalogReader
	maxPartitionSize int64
}

// NewCandidateFinder creates a finder treating partitions smaller than
// maxPartitionSize as candidates.
func NewCandidateFinder(catalog manifest.CatalogReader, maxPartitionSize int64) *CandidateFinder {
	if maxPartitionSize <= 0 {
		maxPartitionSize = DefaultMaxPartitionSize
	}
	return &CandidateFinder{catalog: catalog, maxPartitionSize: maxPartitionSize}
}

// FindCandidates returns, per day matching pred, the small live partitions
// of that day. Days with fewer than two small partitions are skipped.
func (f *CandidateFinder) FindCandidates(ctx context.Context, pred partition.Predicate) ([]*CandidateGroup, error) {
	records, err := f.catalog.FindPartitions(ctx, pred)
	if err != nil {
		return nil, err
	}

	// records arrive ordered by day
	var groups []*CandidateGroup
	var current *CandidateGroup
	for _, r := range records {
		if r.SizeBytes >= f.maxPartitionSize {
			continue
		}
		if current == nil || current.Key != r.Key {
			current = &CandidateGroup{Key: r.Key}
			groups = append(groups, current)
		}
		current.Partitions = append(current.Partitions, r)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Partitions) >= 2 {
			out = append(out, g)
		}
	}
	return out, nil
}
