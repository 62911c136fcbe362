package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pglogrepl"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

// changeLogTable is the full-mode change log this tool maintains; it is not
// offered as a watchable table.
const changeLogTable = "data_change_log"

// MaxSlots is the slot-count ceiling enforced before creating a new analysis.
// At or above this the connection is still usable but a new session must be
// refused upstream.
const MaxSlots = 10

// SlotInfo describes one live logical replication slot.
type SlotInfo struct {
	SlotName     string
	Plugin       string
	Database     string
	Active       bool
	RestartLSN   pglogrepl.LSN
	ConfirmedLSN pglogrepl.LSN
}

// CheckConnection verifies the source database is reachable and returns the
// live replication-slot count for the slot-limit pre-check.
func CheckConnection(ctx context.Context, dsn string) (int, error) {
	if dsn == "" {
		return 0, errors.New("postgres dsn is required")
	}
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM pg_replication_slots").Scan(&count); err != nil {
		return 0, fmt.Errorf("count replication slots: %w", err)
	}
	return count, nil
}

// EnsureSlotCapacity runs the pre-check and returns event.ErrSlotLimit when
// the source database cannot take another slot.
func EnsureSlotCapacity(ctx context.Context, dsn string) error {
	count, err := CheckConnection(ctx, dsn)
	if err != nil {
		return err
	}
	if count >= MaxSlots {
		return fmt.Errorf("%w: %d live slots", event.ErrSlotLimit, count)
	}
	return nil
}

// ListSlots returns metadata for all logical replication slots.
func ListSlots(ctx context.Context, dsn string) ([]SlotInfo, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
SELECT slot_name, plugin, database, active, restart_lsn::text, confirmed_flush_lsn::text
FROM pg_replication_slots
WHERE slot_type = 'logical'
ORDER BY slot_name`)
	if err != nil {
		return nil, fmt.Errorf("query replication slots: %w", err)
	}
	defer rows.Close()

	out := make([]SlotInfo, 0)
	for rows.Next() {
		var item SlotInfo
		var restartLSN, confirmedLSN sql.NullString
		if err := rows.Scan(&item.SlotName, &item.Plugin, &item.Database, &item.Active, &restartLSN, &confirmedLSN); err != nil {
			return nil, fmt.Errorf("scan replication slot: %w", err)
		}
		if restartLSN.Valid {
			if lsn, err := pglogrepl.ParseLSN(restartLSN.String); err == nil {
				item.RestartLSN = lsn
			}
		}
		if confirmedLSN.Valid {
			if lsn, err := pglogrepl.ParseLSN(confirmedLSN.String); err == nil {
				item.ConfirmedLSN = lsn
			}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replication slots: %w", err)
	}
	return out, nil
}

// LiveSlotNames returns the live slot names as a set, for reconciling
// session records against the source database on each listing.
func LiveSlotNames(ctx context.Context, dsn string) (map[string]struct{}, error) {
	slots, err := ListSlots(ctx, dsn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(slots))
	for _, slot := range slots {
		out[slot.SlotName] = struct{}{}
	}
	return out, nil
}

// ListTables returns the user tables of the public schema, minus the
// change-log table this tool writes itself.
func ListTables(ctx context.Context, dsn string) ([]string, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if table == changeLogTable {
			continue
		}
		out = append(out, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return out, nil
}
