package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	ferrors "github.com/arkilian/sessionfunnel/internal/errors"
	"github.com/arkilian/sessionfunnel/internal/logging"
	"github.com/arkilian/sessionfunnel/internal/metrics"
	"github.com/arkilian/sessionfunnel/pkg/types"
)

// Driver names the database backing the output dataset.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverDuckDB Driver = "duckdb"
)

// Mode selects how a run treats rows already written for its keys.
type Mode string

const (
	// ModeAppend appends every row. Re-running a day duplicates its rows.
	ModeAppend Mode = "append"

	// ModeUpsert replaces the rows with the same date and dimensions.
	ModeUpsert Mode = "upsert"
)

// ErrUnboundResult is the driver quirk raised by some write-only
// statements that nonetheless succeeded.
var ErrUnboundResult = errors.New("unbound result")

// Config configures a SQLSink.
type Config struct {
	Driver Driver
	Path   string
	Mode   Mode
}

// RunRecord is the audit entry of one write.
type RunRecord struct {
	RunID      string
	Job        string
	LogDate    civil.Date
	Mode       Mode
	Rows       int
	StartedAt  time.Time
	FinishedAt time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SQLSink writes aggregate rows through database/sql to SQLite or DuckDB.
type SQLSink struct {
	db      *sql.DB
	driver  Driver
	mode    Mode
	metrics *metrics.Collectors

	mu      sync.Mutex
	created map[string]bool
}

// Open opens the output dataset.
func Open(cfg Config, m *metrics.Collectors) (*SQLSink, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAppend
	}
	if cfg.Mode != ModeAppend && cfg.Mode != ModeUpsert {
		return nil, ferrors.NewValidationError(ferrors.CodeInvalidDefinition,
			fmt.Sprintf("sink: unknown mode %q", cfg.Mode))
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		db, err = sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case DriverDuckDB:
		db, err = sql.Open("duckdb", cfg.Path)
	default:
		return nil, ferrors.NewValidationError(ferrors.CodeInvalidDefinition,
			fmt.Sprintf("sink: unknown driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, ferrors.NewSinkError(ferrors.CodeWriteFailed, "sink: failed to open output dataset", err)
	}

	return &SQLSink{
		db:      db,
		driver:  cfg.Driver,
		mode:    cfg.Mode,
		metrics: m,
		created: make(map[string]bool),
	}, nil
}

// Mode returns the write mode.
func (s *SQLSink) Mode() Mode { return s.mode }

// Write writes rows for job into table. Each row is committed in its own
// transaction; a failure aborts the write and leaves earlier rows in place.
func (s *SQLSink) Write(ctx context.Context, job string, table Table, day civil.Date, rows []types.AggregateRow) (*RunRecord, error) {
	log := logging.FromContext(ctx).With("job", job, "table", table.Name, "mode", string(s.mode))

	if err := table.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureTables(ctx, table); err != nil {
		return nil, err
	}

	record := &RunRecord{
		RunID:     uuid.New().String(),
		Job:       job,
		LogDate:   day,
		Mode:      s.mode,
		StartedAt: time.Now().UTC(),
	}

	insertSQL := table.insertSQL(s.datePlaceholder())
	deleteSQL := table.deleteSQL(s.datePlaceholder())
	for _, row := range rows {
		if err := s.writeRow(ctx, table, row, insertSQL, deleteSQL); err != nil {
			log.Errorw("Failed to write row", "key", row.Key(), "written", record.Rows, zap.Error(err))
			return record, err
		}
		record.Rows++
	}
	record.FinishedAt = time.Now().UTC()

	if err := s.exec(ctx, s.db,
		fmt.Sprintf(`INSERT INTO %s (run_id, job, log_date, mode, row_count, started_at, finished_at) VALUES (?, ?, %s, ?, ?, ?, ?)`,
			quote(RunsTable), s.datePlaceholder()),
		record.RunID, record.Job, day.String(), string(record.Mode), record.Rows,
		record.StartedAt.Format(time.RFC3339Nano), record.FinishedAt.Format(time.RFC3339Nano),
	); err != nil {
		return record, ferrors.NewSinkError(ferrors.CodeWriteFailed, "sink: failed to record run", err)
	}

	s.metrics.ObserveRows(job, string(s.mode), record.Rows)
	log.Infow("Wrote aggregate rows", "runID", record.RunID, "logDate", day.String(), "rows", record.Rows)
	return record, nil
}

func (s *SQLSink) writeRow(ctx context.Context, table Table, row types.AggregateRow, insertSQL, deleteSQL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.NewSinkError(ferrors.CodeWriteFailed, "sink: failed to begin transaction", err)
	}

	if s.mode == ModeUpsert {
		if err := s.exec(ctx, tx, deleteSQL, table.keyArgs(row)...); err != nil {
			tx.Rollback()
			return rowError(table, row, err)
		}
	}
	if err := s.exec(ctx, tx, insertSQL, table.insertArgs(row)...); err != nil {
		tx.Rollback()
		return rowError(table, row, err)
	}
	if err := tx.Commit(); err != nil {
		return rowError(table, row, err)
	}
	return nil
}

func (s *SQLSink) ensureTables(ctx context.Context, table Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.created[RunsTable] {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT NOT NULL,
			job TEXT NOT NULL,
			log_date DATE NOT NULL,
			mode TEXT NOT NULL,
			row_count BIGINT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`, quote(RunsTable))
		if err := s.exec(ctx, s.db, ddl); err != nil {
			return ferrors.NewSinkError(ferrors.CodeWriteFailed, "sink: failed to create runs table", err)
		}
		s.created[RunsTable] = true
	}
	if !s.created[table.Name] {
		if err := s.exec(ctx, s.db, table.createSQL()); err != nil {
			return ferrors.NewSinkError(ferrors.CodeWriteFailed,
				fmt.Sprintf("sink: failed to create table %s", table.Name), err)
		}
		s.created[table.Name] = true
	}
	return nil
}

// exec runs a write-only statement, tolerating the unbound-result quirk.
func (s *SQLSink) exec(ctx context.Context, ex execer, query string, args ...interface{}) error {
	_, err := ex.ExecContext(ctx, query, args...)
	return s.ignoreUnbound(ctx, err)
}

// ignoreUnbound swallows exactly the unbound-result quirk and returns any
// other error unchanged.
func (s *SQLSink) ignoreUnbound(ctx context.Context, err error) error {
	if err == nil || !isUnboundResult(err) {
		return err
	}
	s.metrics.IgnoredError("unbound_result")
	logging.FromContext(ctx).Debugw("Ignoring unbound result on write-only statement", zap.Error(err))
	return nil
}

// unboundPrefixes are the messages drivers raise for the quirk. Only the
// start of the root cause is compared, so messages that merely echo the
// phrase do not match.
var unboundPrefixes = []string{
	"unbound result",
	"Unbound result",
	"Py4JJavaError: Unbound result",
}

func isUnboundResult(err error) bool {
	if errors.Is(err, ErrUnboundResult) {
		return true
	}
	if ferrors.Has(err, ferrors.ErrCategorySink, ferrors.CodeUnboundResult) {
		return true
	}
	msg := rootCause(err).Error()
	for _, p := range unboundPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func (s *SQLSink) datePlaceholder() string {
	if s.driver == DriverDuckDB {
		return "CAST(? AS DATE)"
	}
	return "?"
}

func rowError(table Table, row types.AggregateRow, err error) error {
	return ferrors.NewSinkError(ferrors.CodeWriteFailed,
		fmt.Sprintf("sink: failed to write row %s to %s", row.Key(), table.Name), err).
		WithDetails(map[string]interface{}{"table": table.Name, "key": row.Key()})
}

// Close closes the output dataset.
func (s *SQLSink) Close() error {
	return s.db.Close()
}
