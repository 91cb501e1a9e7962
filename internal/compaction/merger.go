package compaction

import (
	"context"
	"fmt"
	"os"

	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/internal/storage"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Merger merges the partitions of a candidate group into one partition.
type Merger struct {
	downloader *storage.BatchDownloader
	builder    *partition.Builder
	metaGen    *partition.MetadataGenerator
}

// NewMerger creates a merger that downloads sources through downloader and
// builds merged partitions in workDir.
func NewMerger(downloader *storage.BatchDownloader, workDir string) *Merger {
	return &Merger{
		downloader: downloader,
		builder:    partition.NewBuilder(workDir),
		metaGen:    partition.NewMetadataGenerator(),
	}
}

// MergeResult is a built, not yet uploaded, merged partition.
type MergeResult struct {
	Info      *partition.PartitionInfo
	SourceIDs []string

	// SourceRows is the sum of the sources' row counts
	SourceRows int64
	// DistinctEvents is the number of distinct event IDs across the sources
	DistinctEvents int64

	sourcePaths []string
}

// Merge downloads the sources, reads their events and writes them into a
// single new partition with its sidecar. An event ID present in more than
// one source is kept once.
func (m *Merger) Merge(ctx context.Context, group *CandidateGroup) (*MergeResult, error) {
	if len(group.Partitions) < 2 {
		return nil, fmt.Errorf("compaction: need at least 2 partitions to merge, got %d", len(group.Partitions))
	}

	objectPaths := make([]string, len(group.Partitions))
	for i, p := range group.Partitions {
		objectPaths[i] = p.ObjectPath
	}
	batch, err := m.downloader.Download(ctx, objectPaths)
	if err != nil {
		return nil, fmt.Errorf("compaction: failed to download sources: %w", err)
	}

	result := &MergeResult{}
	seen := make(map[string]bool)
	var events []types.Event
	for _, p := range group.Partitions {
		local := batch.LocalPaths[p.ObjectPath]
		result.sourcePaths = append(result.sourcePaths, local)
		result.SourceIDs = append(result.SourceIDs, p.PartitionID)
		result.SourceRows += p.RowCount

		evs, err := partition.ReadEvents(ctx, local, p.Key, nil)
		if err != nil {
			return nil, fmt.Errorf("compaction: failed to read %s: %w", p.PartitionID, err)
		}
		for _, e := range evs {
			if seen[e.EventID] {
				continue
			}
			seen[e.EventID] = true
			events = append(events, e)
		}
	}
	result.DistinctEvents = int64(len(events))

	info, err := m.builder.Build(ctx, events, group.Key)
	if err != nil {
		return nil, fmt.Errorf("compaction: failed to build merged partition: %w", err)
	}
	result.Info = info
	if _, err := m.metaGen.GenerateAndWrite(info); err != nil {
		m.Cleanup(result)
		return nil, fmt.Errorf("compaction: failed to write metadata: %w", err)
	}
	return result, nil
}

// Cleanup removes the local files of a merge.
func (m *Merger) Cleanup(result *MergeResult) {
	for _, p := range result.sourcePaths {
		os.Remove(p)
	}
	if result.Info != nil {
		os.Remove(result.Info.SQLitePath)
		os.Remove(result.Info.MetadataPath)
	}
}
