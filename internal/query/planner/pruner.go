package planner

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/manifest"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/internal/storage"
)

// Pruner skips partitions whose action bloom filter rules out every action
// a run needs. Sidecars are fetched from object storage once and cached.
type Pruner struct {
	storage  storage.ObjectStorage
	cacheDir string

	// metadataCache caches loaded metadata sidecars by partition ID.
	metadataCache   map[string]*partition.MetadataSidecar
	metadataCacheMu sync.RWMutex
}

// NewPruner creates a pruner that downloads sidecars into cacheDir.
func NewPruner(store storage.ObjectStorage, cacheDir string) *Pruner {
	return &Pruner{
		storage:       store,
		cacheDir:      cacheDir,
		metadataCache: make(map[string]*partition.MetadataSidecar),
	}
}

// Prune returns the candidates that may contain any of actions. A partition
// whose sidecar cannot be loaded is kept; pruning never drops data on error.
func (p *Pruner) Prune(ctx context.Context, candidates []*manifest.PartitionRecord, actions []string) []*manifest.PartitionRecord {
	log := logging.FromContext(ctx)

	result := make([]*manifest.PartitionRecord, 0, len(candidates))
	for _, candidate := range candidates {
		sidecar, err := p.getMetadata(ctx, candidate)
		if err != nil {
			log.Warnw("Failed to load partition sidecar, keeping partition",
				"partitionID", candidate.PartitionID, "error", err)
			result = append(result, candidate)
			continue
		}
		if sidecar.MayContainAny(actions) {
			result = append(result, candidate)
		}
	}
	return result
}

func (p *Pruner) getMetadata(ctx context.Context, record *manifest.PartitionRecord) (*partition.MetadataSidecar, error) {
	p.metadataCacheMu.RLock()
	sidecar, ok := p.metadataCache[record.PartitionID]
	p.metadataCacheMu.RUnlock()
	if ok {
		return sidecar, nil
	}

	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return nil, err
	}
	localPath := filepath.Join(p.cacheDir, record.PartitionID+".meta.json")
	if err := p.storage.Download(ctx, record.MetaPath, localPath); err != nil {
		return nil, err
	}
	defer os.Remove(localPath)

	sidecar, err := partition.ReadMetadataFromFile(localPath)
	if err != nil {
		return nil, err
	}

	p.metadataCacheMu.Lock()
	p.metadataCache[record.PartitionID] = sidecar
	p.metadataCacheMu.Unlock()
	return sidecar, nil
}
