package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/partition"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Catalog manages partition metadata in manifest.db.
type Catalog interface {
	CatalogReader

	// RegisterPartition records a partition uploaded to objectPath with its
	// sidecar at metaPath.
	RegisterPartition(ctx context.Context, info *partition.PartitionInfo, objectPath, metaPath string) error

	// ReplacePartitions registers a compacted partition and marks sourceIDs
	// as compacted into it, atomically.
	ReplacePartitions(ctx context.Context, info *partition.PartitionInfo, objectPath, metaPath string, sourceIDs []string) error

	// CompactedBefore returns compacted partitions marked at or before cutoff.
	CompactedBefore(ctx context.Context, cutoff time.Time) ([]*PartitionRecord, error)

	// DeletePartitions removes partition records.
	DeletePartitions(ctx context.Context, ids []string) error

	// Close closes the catalog database connections.
	Close() error
}

// CatalogReader is the read-only view used by the planner.
type CatalogReader interface {
	// FindPartitions returns partitions whose day satisfies the predicate.
	FindPartitions(ctx context.Context, pred partition.Predicate) ([]*PartitionRecord, error)

	// PartitionDays returns the distinct days that have at least one
	// partition satisfying the predicate.
	PartitionDays(ctx context.Context, pred partition.Predicate) ([]types.PartitionKey, error)
}

// PartitionRecord represents a partition in the manifest.
type PartitionRecord struct {
	PartitionID  string
	Key          types.PartitionKey
	ObjectPath   string
	MetaPath     string
	RowCount     int64
	SizeBytes    int64
	MinEventTime *int64
	MaxEventTime *int64
	CreatedAt    time.Time

	// CompactedInto is the replacing partition, nil while the partition is live
	CompactedInto *string
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // single writer
	readDB *sql.DB // concurrent readers
	dbPath string
	mu     sync.Mutex

	insertPartitionStmt *sql.Stmt
}

var _ Catalog = (*SQLiteCatalog)(nil)

const selectPartitionColumns = `p.partition_id, p.year, p.month, p.day, p.object_path, p.meta_path,
	p.row_count, p.size_bytes, p.min_event_time, p.max_event_time, p.created_at, p.compacted_into`

// NewCatalog opens (creating if needed) the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO partitions (
			partition_id, year, month, day, object_path, meta_path,
			row_count, size_bytes, min_event_time, max_event_time, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	catalog.insertPartitionStmt = insertStmt

	return catalog, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// RegisterPartition adds a partition to the catalog.
func (c *SQLiteCatalog) RegisterPartition(ctx context.Context, info *partition.PartitionInfo, objectPath, metaPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.insertPartitionStmt.ExecContext(ctx,
		info.PartitionID, info.Key.Year, info.Key.Month, info.Key.Day,
		objectPath, metaPath,
		info.RowCount, info.SizeBytes,
		info.MinEventTime, info.MaxEventTime,
		info.CreatedAt.Unix(),
	)
	if err != nil {
		return ferrors.NewCatalogError(ferrors.CodeRegisterFailed,
			fmt.Sprintf("manifest: failed to insert partition %s", info.PartitionID), err)
	}
	return nil
}

// FindPartitions returns live partitions whose day satisfies the predicate,
// ordered by day and creation time.
func (c *SQLiteCatalog) FindPartitions(ctx context.Context, pred partition.Predicate) ([]*PartitionRecord, error) {
	where, args := pred.Render("p")
	query := `SELECT ` + selectPartitionColumns + `
		FROM partitions p
		WHERE p.compacted_into IS NULL AND (` + where + `)
		ORDER BY p.year, p.month, p.day, p.created_at, p.partition_id`

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.NewCatalogError(ferrors.CodeLookupFailed, "manifest: failed to query partitions", err)
	}
	defer rows.Close()

	var records []*PartitionRecord
	for rows.Next() {
		record, err := scanPartitionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.NewCatalogError(ferrors.CodeLookupFailed, "manifest: error iterating partitions", err)
	}
	return records, nil
}

// PartitionDays returns the distinct days with partitions matching pred.
func (c *SQLiteCatalog) PartitionDays(ctx context.Context, pred partition.Predicate) ([]types.PartitionKey, error) {
	where, args := pred.Render("p")
	query := `SELECT DISTINCT p.year, p.month, p.day FROM partitions p WHERE p.compacted_into IS NULL AND (` + where +
		`) ORDER BY p.year, p.month, p.day`

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.NewCatalogError(ferrors.CodeLookupFailed, "manifest: failed to query partition days", err)
	}
	defer rows.Close()

	var days []types.PartitionKey
	for rows.Next() {
		var k types.PartitionKey
		if err := rows.Scan(&k.Year, &k.Month, &k.Day); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan partition day: %w", err)
		}
		days = append(days, k)
	}
	return days, rows.Err()
}

// ReplacePartitions registers the compacted partition and marks its sources
// in one transaction, so a reader sees either the sources or the result.
func (c *SQLiteCatalog) ReplacePartitions(ctx context.Context, info *partition.PartitionInfo, objectPath, metaPath string, sourceIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.NewCatalogError(ferrors.CodeRegisterFailed, "manifest: failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, c.insertPartitionStmt).ExecContext(ctx,
		info.PartitionID, info.Key.Year, info.Key.Month, info.Key.Day,
		objectPath, metaPath,
		info.RowCount, info.SizeBytes,
		info.MinEventTime, info.MaxEventTime,
		info.CreatedAt.Unix(),
	); err != nil {
		return ferrors.NewCatalogError(ferrors.CodeRegisterFailed,
			fmt.Sprintf("manifest: failed to insert partition %s", info.PartitionID), err)
	}

	now := time.Now().Unix()
	for _, id := range sourceIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE partitions SET compacted_into = ?, compacted_at = ? WHERE partition_id = ? AND compacted_into IS NULL`,
			info.PartitionID, now, id)
		if err != nil {
			return ferrors.NewCatalogError(ferrors.CodeRegisterFailed,
				fmt.Sprintf("manifest: failed to mark partition %s compacted", id), err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ferrors.NewCatalogError(ferrors.CodeRegisterFailed,
				fmt.Sprintf("manifest: partition %s is not live", id), nil)
		}
	}

	if err := tx.Commit(); err != nil {
		return ferrors.NewCatalogError(ferrors.CodeRegisterFailed, "manifest: failed to commit compaction", err)
	}
	return nil
}

// CompactedBefore returns partitions compacted at or before cutoff, to the
// second.
func (c *SQLiteCatalog) CompactedBefore(ctx context.Context, cutoff time.Time) ([]*PartitionRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `SELECT `+selectPartitionColumns+`
		FROM partitions p
		WHERE p.compacted_into IS NOT NULL AND p.compacted_at <= ?
		ORDER BY p.compacted_at, p.partition_id`, cutoff.Unix())
	if err != nil {
		return nil, ferrors.NewCatalogError(ferrors.CodeLookupFailed, "manifest: failed to query compacted partitions", err)
	}
	defer rows.Close()

	var records []*PartitionRecord
	for rows.Next() {
		record, err := scanPartitionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeletePartitions removes the given partition records.
func (c *SQLiteCatalog) DeletePartitions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM partitions WHERE partition_id IN (`+placeholders+`)`, args...); err != nil {
		return ferrors.NewCatalogError(ferrors.CodeRegisterFailed, "manifest: failed to delete partitions", err)
	}
	return nil
}

// GetPartition retrieves a single partition by ID.
func (c *SQLiteCatalog) GetPartition(ctx context.Context, partitionID string) (*PartitionRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT `+selectPartitionColumns+` FROM partitions p WHERE p.partition_id = ?`, partitionID)
	if err != nil {
		return nil, ferrors.NewCatalogError(ferrors.CodeLookupFailed, "manifest: failed to query partition", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("manifest: partition %s not found", partitionID)
	}
	return scanPartitionRecord(rows)
}

// GetPartitionCount returns the number of live partitions.
func (c *SQLiteCatalog) GetPartitionCount(ctx context.Context) (int64, error) {
	var count int64
	if err := c.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM partitions WHERE compacted_into IS NULL").Scan(&count); err != nil {
		return 0, fmt.Errorf("manifest: failed to count partitions: %w", err)
	}
	return count, nil
}

func scanPartitionRecord(rows *sql.Rows) (*PartitionRecord, error) {
	var record PartitionRecord
	var createdAtUnix int64
	err := rows.Scan(
		&record.PartitionID, &record.Key.Year, &record.Key.Month, &record.Key.Day,
		&record.ObjectPath, &record.MetaPath,
		&record.RowCount, &record.SizeBytes,
		&record.MinEventTime, &record.MaxEventTime,
		&createdAtUnix, &record.CompactedInto,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to scan partition: %w", err)
	}
	record.CreatedAt = time.Unix(createdAtUnix, 0)
	return &record, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertPartitionStmt != nil {
		c.insertPartitionStmt.Close()
	}
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
