// Package partition stores the event log as immutable SQLite day partitions
// and selects the partitions a daily run has to scan.
package partition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// PartitionInfo contains metadata about a built partition file.
type PartitionInfo struct {
	PartitionID  string
	Key          types.PartitionKey
	SQLitePath   string
	MetadataPath string
	RowCount     int64
	SizeBytes    int64
	MinEventTime *int64
	MaxEventTime *int64
	Actions      []string
	SessionCount int
	CreatedAt    time.Time
}

// ObjectPath returns the object storage path of the partition file.
func (p *PartitionInfo) ObjectPath() string {
	return fmt.Sprintf("events/%s/%s.sqlite", p.Key, p.PartitionID)
}

// MetadataObjectPath returns the object storage path of the sidecar.
func (p *PartitionInfo) MetadataObjectPath() string {
	return fmt.Sprintf("events/%s/%s.meta.json", p.Key, p.PartitionID)
}

const createEventsTableSQL = `
	CREATE TABLE events (
		event_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		action TEXT NOT NULL,
		event_time INTEGER NOT NULL,
		ingested_at INTEGER,
		attributes BLOB NOT NULL
	) WITHOUT ROWID
`

var createEventsIndexesSQL = []string{
	"CREATE INDEX idx_events_session_time ON events(session_id, event_time)",
	"CREATE INDEX idx_events_action ON events(action)",
}

// Builder writes events into SQLite partition files.
type Builder struct {
	outputDir string
}

// NewBuilder creates a new partition builder writing into outputDir.
func NewBuilder(outputDir string) *Builder {
	return &Builder{outputDir: outputDir}
}

// Build creates one partition file for events routed to key. Events without
// an ID get a generated one; duplicate IDs within the batch are stored once.
func (b *Builder) Build(ctx context.Context, events []types.Event, key types.PartitionKey) (*PartitionInfo, error) {
	if len(events) == 0 {
		return nil, ferrors.NewValidationError(ferrors.CodeEmptyBatch, "partition: cannot build partition with no events")
	}

	partitionID := fmt.Sprintf("events-%04d%02d%02d-%s", key.Year, key.Month, key.Day, uuid.New().String()[:8])
	createdAt := time.Now()

	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("partition: failed to create output directory: %w", err)
	}

	sqlitePath := filepath.Clean(filepath.Join(b.outputDir, partitionID+".sqlite"))

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTableSQL); err != nil {
		return nil, fmt.Errorf("partition: failed to create events table: %w", err)
	}
	for _, idx := range createEventsIndexesSQL {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return nil, fmt.Errorf("partition: failed to create index: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO events (event_id, session_id, action, event_time, ingested_at, attributes) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	stats := NewStatsTracker()
	for i, e := range events {
		if e.SessionID == "" || e.Action == "" {
			return nil, ferrors.NewValidationError(ferrors.CodeInvalidEvent,
				fmt.Sprintf("partition: event %d is missing session_id or action", i))
		}
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}

		attrs, err := encodeAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("partition: failed to encode attributes of %s: %w", e.EventID, err)
		}

		var ingestedAt interface{}
		if !e.IngestedAt.IsZero() {
			ingestedAt = e.IngestedAt.UnixNano()
		}

		res, err := stmt.ExecContext(ctx, e.EventID, e.SessionID, e.Action, e.Timestamp.UnixNano(), ingestedAt, attrs)
		if err != nil {
			return nil, fmt.Errorf("partition: failed to insert event: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		stats.Update(e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("partition: failed to commit events: %w", err)
	}

	// Checkpoint and leave WAL mode so the file is self-contained.
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("partition: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode to DELETE: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("partition: failed to close database: %w", err)
	}

	fileInfo, err := os.Stat(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to stat SQLite file: %w", err)
	}

	minTime, maxTime := stats.EventTimeBounds()
	return &PartitionInfo{
		PartitionID:  partitionID,
		Key:          key,
		SQLitePath:   sqlitePath,
		RowCount:     stats.RowCount(),
		SizeBytes:    fileInfo.Size(),
		MinEventTime: minTime,
		MaxEventTime: maxTime,
		Actions:      stats.Actions(),
		SessionCount: stats.SessionCount(),
		CreatedAt:    createdAt,
	}, nil
}

// encodeAttributes stores attributes as Snappy-compressed JSON.
func encodeAttributes(attrs map[string]interface{}) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeAttributes(blob []byte) (map[string]interface{}, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
