package partition

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/sessionfunnel/pkg/types"
)

// ReadEvents reads the events stored in a partition file. A non-empty
// actions list restricts the read to those actions.
func ReadEvents(ctx context.Context, path string, key types.PartitionKey, actions []string) ([]types.Event, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("partition: failed to open %s: %w", path, err)
	}
	defer db.Close()

	query := `SELECT event_id, session_id, action, event_time, ingested_at, attributes FROM events`
	var args []interface{}
	if len(actions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(actions)), ",")
		query += " WHERE action IN (" + placeholders + ")"
		for _, a := range actions {
			args = append(args, a)
		}
	}
	query += " ORDER BY session_id, event_time, event_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to query %s: %w", path, err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			e          types.Event
			eventTime  int64
			ingestedAt sql.NullInt64
			blob       []byte
		)
		if err := rows.Scan(&e.EventID, &e.SessionID, &e.Action, &eventTime, &ingestedAt, &blob); err != nil {
			return nil, fmt.Errorf("partition: failed to scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, eventTime).UTC()
		if ingestedAt.Valid {
			e.IngestedAt = time.Unix(0, ingestedAt.Int64).UTC()
		}
		if e.Attributes, err = decodeAttributes(blob); err != nil {
			return nil, fmt.Errorf("partition: corrupt attributes for %s: %w", e.EventID, err)
		}
		e.Partition = key
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partition: error iterating events: %w", err)
	}
	return events, nil
}
