package compaction

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ValidationResult holds the outcome of a compaction validation.
type ValidationResult struct {
	Valid        bool
	ExpectedRows int64
	ActualRows   int64
	Errors       []string
}

// Validator checks a merged partition against its sources before it
// replaces them.
type Validator struct{}

// NewValidator creates a new compaction validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that the merged partition holds every distinct source
// event and that its file agrees with the recorded row count.
func (v *Validator) Validate(ctx context.Context, result *MergeResult) (*ValidationResult, error) {
	vr := &ValidationResult{Valid: true, ExpectedRows: result.DistinctEvents, ActualRows: result.Info.RowCount}

	if result.DistinctEvents > result.SourceRows {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"sources hold %d distinct events but record only %d rows", result.DistinctEvents, result.SourceRows))
	}
	if result.Info.RowCount != result.DistinctEvents {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"row count mismatch: expected %d distinct events, got %d", result.DistinctEvents, result.Info.RowCount))
	}

	actual, err := countRows(ctx, result.Info.SQLitePath)
	if err != nil {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf("failed to count rows in merged partition: %v", err))
		return vr, nil
	}
	if actual != result.Info.RowCount {
		vr.Valid = false
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"merged file holds %d rows, recorded %d", actual, result.Info.RowCount))
	}
	return vr, nil
}

func countRows(ctx context.Context, path string) (int64, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
