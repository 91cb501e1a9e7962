// Package manifest provides the catalog of event log partitions.
package manifest

// CreatePartitionsTableSQL creates the partitions table. The year, month and
// day columns are the partition columns the range selector addresses. A
// partition with compacted_into set has been replaced and is kept only until
// garbage collection.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    partition_id TEXT PRIMARY KEY,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    day INTEGER NOT NULL,
    object_path TEXT NOT NULL,
    meta_path TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    min_event_time INTEGER,
    max_event_time INTEGER,
    created_at INTEGER NOT NULL,
    compacted_into TEXT,
    compacted_at INTEGER
)`

// CreatePartitionsIndexesSQL creates indexes for day-range lookups.
var CreatePartitionsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_partitions_day ON partitions(year, month, day)`,
	`CREATE INDEX IF NOT EXISTS idx_partitions_created ON partitions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_partitions_compacted ON partitions(compacted_into)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{CreatePartitionsTableSQL}
	return append(statements, CreatePartitionsIndexesSQL...)
}
