package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchDownloader downloads many objects in parallel into a local directory.
// Objects already present locally are reused.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
	cacheDir    string
}

// BatchResult maps each requested object path to its local file.
type BatchResult struct {
	LocalPaths map[string]string
	CacheHits  int
	Downloads  int
}

// NewBatchDownloader creates a downloader with at most concurrency parallel
// transfers.
func NewBatchDownloader(storage ObjectStorage, concurrency int, cacheDir string) *BatchDownloader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
		cacheDir:    cacheDir,
	}
}

// Download fetches all objects. The first failure cancels the remaining
// transfers and is returned; a partial batch is never reported as success.
func (b *BatchDownloader) Download(ctx context.Context, objectPaths []string) (*BatchResult, error) {
	result := &BatchResult{LocalPaths: make(map[string]string, len(objectPaths))}
	if len(objectPaths) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(b.cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create cache directory: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, objectPath := range objectPaths {
		objectPath := objectPath
		local := b.LocalPath(objectPath)

		if _, err := os.Stat(local); err == nil {
			mu.Lock()
			result.LocalPaths[objectPath] = local
			result.CacheHits++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			// Download beside the target and rename so an interrupted
			// transfer never leaves a file that looks cached.
			tmp := local + ".part"
			if err := b.storage.Download(gctx, objectPath, tmp); err != nil {
				os.Remove(tmp)
				return fmt.Errorf("%s: %w", objectPath, err)
			}
			if err := os.Rename(tmp, local); err != nil {
				return fmt.Errorf("%s: %w", objectPath, err)
			}
			mu.Lock()
			result.LocalPaths[objectPath] = local
			result.Downloads++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// LocalPath returns the cache file used for an object path.
func (b *BatchDownloader) LocalPath(objectPath string) string {
	flat := strings.ReplaceAll(strings.Trim(objectPath, "/"), "/", "_")
	return filepath.Join(b.cacheDir, filepath.Base(flat))
}
