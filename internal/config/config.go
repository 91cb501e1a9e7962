// Package config provides the configuration of funnelstats.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
)

// Config holds the configuration of a funnelstats deployment.
type Config struct {
	// DataDir is the base directory for all local files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Storage configuration of the event log objects
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Ingest configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Query configuration of daily runs
	Query QueryConfig `json:"query" yaml:"query"`

	// Sink configuration of the output dataset
	Sink SinkConfig `json:"sink" yaml:"sink"`

	// Compaction configuration
	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Jobs configuration
	Jobs JobsConfig `json:"jobs" yaml:"jobs"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// IngestConfig holds ingest configuration.
type IngestConfig struct {
	// PartitionDir is where partition files are built before upload
	PartitionDir string `json:"partition_dir" yaml:"partition_dir"`
}

// QueryConfig holds the configuration of daily runs.
type QueryConfig struct {
	// DownloadDir is the directory for downloaded partitions
	DownloadDir string `json:"download_dir" yaml:"download_dir"`

	// Concurrency is the number of partitions fetched and read in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// RequireCompleteWindow fails a run when any day of its window has no
	// partition
	RequireCompleteWindow bool `json:"require_complete_window" yaml:"require_complete_window"`

	// BloomPruning skips partitions whose action bloom filter excludes
	// every action the selected jobs need
	BloomPruning bool `json:"bloom_pruning" yaml:"bloom_pruning"`

	// KeepDownloads keeps downloaded partitions after a run
	KeepDownloads bool `json:"keep_downloads" yaml:"keep_downloads"`
}

// SinkConfig holds the output dataset configuration.
type SinkConfig struct {
	// Driver is sqlite or duckdb
	Driver string `json:"driver" yaml:"driver"`

	// Path is the database file
	Path string `json:"path" yaml:"path"`

	// Mode is append or upsert
	Mode string `json:"mode" yaml:"mode"`
}

// CompactionConfig holds compaction configuration.
type CompactionConfig struct {
	// MaxPartitionSize is the size in bytes below which partitions are merged
	MaxPartitionSize int64 `json:"max_partition_size" yaml:"max_partition_size"`

	// TTLDays is how long replaced partitions are kept before deletion
	TTLDays int `json:"ttl_days" yaml:"ttl_days"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// PushgatewayURL enables pushing run metrics when set
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`

	// Job is the Pushgateway job label
	Job string `json:"job" yaml:"job"`
}

// JobsConfig selects the analyses to run.
type JobsConfig struct {
	// Enabled lists the jobs run by default. Empty runs every job.
	Enabled []string `json:"enabled" yaml:"enabled"`

	// File is an optional YAML file with additional job definitions
	File string `json:"file" yaml:"file"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/funnelstats",
		Storage: StorageConfig{
			Type: "local",
		},
		Query: QueryConfig{
			Concurrency:  8,
			BloomPruning: true,
		},
		Sink: SinkConfig{
			Driver: "sqlite",
			Mode:   "append",
		},
		Compaction: CompactionConfig{
			MaxPartitionSize: 32 * 1024 * 1024,
			TTLDays:          7,
		},
		Metrics: MetricsConfig{
			Job: "funnelstats",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/funnelstats"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Ingest.PartitionDir == "" {
		c.Ingest.PartitionDir = filepath.Join(c.DataDir, "partitions")
	}
	if c.Query.DownloadDir == "" {
		c.Query.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
	if c.Sink.Path == "" {
		ext := ".db"
		if c.Sink.Driver == "duckdb" {
			ext = ".duckdb"
		}
		c.Sink.Path = filepath.Join(c.DataDir, "funnelstats"+ext)
	}
}

// ManifestPath returns the path to the manifest database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// CompactionDir returns the work directory of compaction.
func (c *Config) CompactionDir() string {
	return filepath.Join(c.DataDir, "compaction")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return invalid("data_dir is required")
	}
	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return invalid(fmt.Sprintf("invalid storage type: %s (must be local or s3)", c.Storage.Type))
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return invalid("s3.bucket is required when storage type is s3")
	}
	if c.Query.Concurrency < 1 {
		return invalid(fmt.Sprintf("query.concurrency must be positive, got %d", c.Query.Concurrency))
	}
	if c.Sink.Driver != "sqlite" && c.Sink.Driver != "duckdb" {
		return invalid(fmt.Sprintf("invalid sink driver: %s (must be sqlite or duckdb)", c.Sink.Driver))
	}
	if c.Sink.Mode != "append" && c.Sink.Mode != "upsert" {
		return invalid(fmt.Sprintf("invalid sink mode: %s (must be append or upsert)", c.Sink.Mode))
	}
	if c.Compaction.MaxPartitionSize < 0 {
		return invalid("compaction.max_partition_size must not be negative")
	}
	if c.Compaction.TTLDays < 0 {
		return invalid("compaction.ttl_days must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies FUNNELSTATS_* environment overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FUNNELSTATS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Storage configuration
	if v := os.Getenv("FUNNELSTATS_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("FUNNELSTATS_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FUNNELSTATS_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("FUNNELSTATS_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("FUNNELSTATS_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("FUNNELSTATS_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = isTrue(v)
	}

	// Query configuration
	if v := os.Getenv("FUNNELSTATS_QUERY_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.Concurrency)
	}
	if v := os.Getenv("FUNNELSTATS_QUERY_REQUIRE_COMPLETE_WINDOW"); v != "" {
		cfg.Query.RequireCompleteWindow = isTrue(v)
	}
	if v := os.Getenv("FUNNELSTATS_QUERY_BLOOM_PRUNING"); v != "" {
		cfg.Query.BloomPruning = isTrue(v)
	}

	// Sink configuration
	if v := os.Getenv("FUNNELSTATS_SINK_DRIVER"); v != "" {
		cfg.Sink.Driver = v
	}
	if v := os.Getenv("FUNNELSTATS_SINK_PATH"); v != "" {
		cfg.Sink.Path = v
	}
	if v := os.Getenv("FUNNELSTATS_SINK_MODE"); v != "" {
		cfg.Sink.Mode = v
	}

	// Compaction configuration
	if v := os.Getenv("FUNNELSTATS_COMPACTION_TTL_DAYS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Compaction.TTLDays)
	}

	if v := os.Getenv("FUNNELSTATS_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("FUNNELSTATS_JOBS"); v != "" {
		cfg.Jobs.Enabled = strings.Split(v, ",")
	}
	if v := os.Getenv("FUNNELSTATS_JOBS_FILE"); v != "" {
		cfg.Jobs.File = v
	}
}

// Load reads the optional config file, applies environment overrides,
// resolves paths and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Ingest.PartitionDir,
		c.Query.DownloadDir,
		c.CompactionDir(),
		filepath.Dir(c.Sink.Path),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

func invalid(msg string) error {
	return ferrors.NewValidationError(ferrors.CodeInvalidDefinition, "config: "+msg)
}
