// Package postgres writes full-mode changes into a structured change-log
// table on the source database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/SofiaNechaeva/wal-analyzer/internal/decode"
	"github.com/SofiaNechaeva/wal-analyzer/internal/filter"
	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

const changeLogTable = "data_change_log"

const initChangeLog = `CREATE TABLE IF NOT EXISTS data_change_log (
  id BIGSERIAL PRIMARY KEY,
  table_name TEXT,
  operation TEXT,
  old_data JSONB,
  new_data JSONB,
  xid BIGINT,
  ts TIMESTAMPTZ,
  schema_name TEXT
);`

// LogRow is one reconstructed change-log entry.
type LogRow struct {
	Table     string
	Operation event.Operation
	OldData   map[string]any
	NewData   map[string]any
	XID       uint64
	Timestamp string
	Schema    string
}

// BuildLogRows decodes raw wal2json payloads and reconstructs the
// operation-specific field sets: inserts carry only new data, updates carry
// the old keys plus the full new row, deletes carry only the old keys.
// Unknown kinds and malformed payloads are skipped, never fatal.
func BuildLogRows(payloads []string, crit filter.Criteria) []LogRow {
	dec := &decode.Wal2JSONDecoder{}
	events, failed := decode.Batch(dec, payloads)
	if failed > 0 {
		log.Printf("changelog: skipped %d malformed payloads", failed)
	}

	out := make([]LogRow, 0, len(events))
	for _, ev := range events {
		switch ev.Operation {
		case event.OpInsert, event.OpUpdate, event.OpDelete:
		default:
			continue
		}
		if !crit.Match(ev) {
			continue
		}
		out = append(out, LogRow{
			Table:     ev.Table,
			Operation: ev.Operation,
			OldData:   ev.OldData,
			NewData:   ev.NewData,
			XID:       ev.XID,
			Timestamp: ev.Timestamp,
			Schema:    ev.Schema,
		})
	}
	return out
}

// ChangeLog appends reconstructed rows to data_change_log on the target
// database, creating the table on first use.
type ChangeLog struct {
	dsn string
}

// NewChangeLog builds a change-log writer for the given database.
func NewChangeLog(dsn string) *ChangeLog {
	return &ChangeLog{dsn: dsn}
}

// Write persists the rows and returns how many were written.
func (c *ChangeLog) Write(ctx context.Context, rows []LogRow) (int, error) {
	pool, err := newPool(ctx, c.dsn)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, initChangeLog); err != nil {
		return 0, fmt.Errorf("create %s: %w", changeLogTable, err)
	}

	written := 0
	for _, row := range rows {
		oldJSON, err := marshalNullable(row.OldData)
		if err != nil {
			log.Printf("changelog: skipping row on %s: %v", row.Table, err)
			continue
		}
		newJSON, err := marshalNullable(row.NewData)
		if err != nil {
			log.Printf("changelog: skipping row on %s: %v", row.Table, err)
			continue
		}
		_, err = pool.Exec(ctx, `
INSERT INTO data_change_log (table_name, operation, old_data, new_data, xid, ts, schema_name)
VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6::timestamptz, $7)`,
			row.Table, string(row.Operation), oldJSON, newJSON, int64(row.XID), nullableString(row.Timestamp), row.Schema)
		if err != nil {
			return written, fmt.Errorf("insert change log row: %w", err)
		}
		written++
	}
	return written, nil
}

func marshalNullable(data map[string]any) (*string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode row data: %w", err)
	}
	out := string(encoded)
	return &out, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
