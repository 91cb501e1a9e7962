package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkilian/sessionfunnel/internal/bloom"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// MetadataSidecar is the .meta.json file stored next to each partition.
type MetadataSidecar struct {
	PartitionID  string             `json:"partition_id"`
	Key          types.PartitionKey `json:"key"`
	RowCount     int64              `json:"row_count"`
	SizeBytes    int64              `json:"size_bytes"`
	SessionCount int                `json:"session_count"`
	MinEventTime *int64             `json:"min_event_time,omitempty"`
	MaxEventTime *int64             `json:"max_event_time,omitempty"`
	ActionBloom  *bloom.Encoded     `json:"action_bloom"`
	CreatedAt    int64              `json:"created_at"`
}

// MetadataGenerator builds sidecars for partitions.
type MetadataGenerator struct {
	targetFPR float64
}

// NewMetadataGenerator creates a generator with a 1% bloom false positive rate.
func NewMetadataGenerator() *MetadataGenerator {
	return &MetadataGenerator{targetFPR: 0.01}
}

// Generate creates the sidecar for a built partition.
func (g *MetadataGenerator) Generate(info *PartitionInfo) *MetadataSidecar {
	filter := bloom.NewWithEstimates(len(info.Actions), g.targetFPR)
	for _, a := range info.Actions {
		filter.AddString(a)
	}

	return &MetadataSidecar{
		PartitionID:  info.PartitionID,
		Key:          info.Key,
		RowCount:     info.RowCount,
		SizeBytes:    info.SizeBytes,
		SessionCount: info.SessionCount,
		MinEventTime: info.MinEventTime,
		MaxEventTime: info.MaxEventTime,
		ActionBloom:  filter.Encode(),
		CreatedAt:    info.CreatedAt.Unix(),
	}
}

// GenerateAndWrite generates the sidecar, writes it beside the SQLite file
// and records its path on info.
func (g *MetadataGenerator) GenerateAndWrite(info *PartitionInfo) (string, error) {
	sidecar := g.Generate(info)
	path := MetadataPath(info.SQLitePath)
	if err := sidecar.WriteToFile(path); err != nil {
		return "", err
	}
	info.MetadataPath = path
	return path, nil
}

// MetadataPath returns the sidecar path for a partition file path.
func MetadataPath(sqlitePath string) string {
	return strings.TrimSuffix(sqlitePath, filepath.Ext(sqlitePath)) + ".meta.json"
}

// WriteToFile writes the sidecar as JSON.
func (s *MetadataSidecar) WriteToFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("metadata: failed to write sidecar file: %w", err)
	}
	return nil
}

// ReadMetadataFromFile reads a sidecar written by WriteToFile.
func ReadMetadataFromFile(path string) (*MetadataSidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to read sidecar file: %w", err)
	}
	var sidecar MetadataSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("metadata: failed to unmarshal sidecar: %w", err)
	}
	return &sidecar, nil
}

// MayContainAny reports whether the partition might hold any of the actions.
// A sidecar without a usable filter is assumed to contain everything.
func (s *MetadataSidecar) MayContainAny(actions []string) bool {
	if s.ActionBloom == nil {
		return true
	}
	filter, err := bloom.Decode(s.ActionBloom)
	if err != nil {
		return true
	}
	return filter.ContainsAny(actions)
}

// CreatedAtTime returns the creation time.
func (s *MetadataSidecar) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}
