package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

const (
	pgCodeDuplicateObject = "42710"
	pgCodeUndefinedObject = "42704"
)

// SlotHandle owns one logical replication slot on a source database for the
// lifetime of an analysis session. Concurrent sessions must not share a slot
// name; the slot is the session's exclusive cursor over the WAL.
type SlotHandle struct {
	dsn    string
	name   string
	plugin event.Plugin
}

// NewSlotHandle builds a handle; no connection is made until the first call.
func NewSlotHandle(dsn, name string, plugin event.Plugin) *SlotHandle {
	return &SlotHandle{dsn: dsn, name: name, plugin: plugin}
}

// Name returns the slot name.
func (h *SlotHandle) Name() string { return h.name }

// Exists queries the live replication-slot catalog. "Not found" is a normal
// false, never an error.
func (h *SlotHandle) Exists(ctx context.Context) (bool, error) {
	pool, err := newPool(ctx, h.dsn)
	if err != nil {
		return false, err
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)", h.name,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check slot %s: %w", h.name, err)
	}
	return exists, nil
}

// Create creates the logical slot with the configured decoder plugin.
// Creation is idempotent: an existing slot of this name is a logged no-op,
// and a duplicate-object race with another creator is swallowed too.
func (h *SlotHandle) Create(ctx context.Context) error {
	exists, err := h.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		log.Printf("slot %s already exists, reusing it", h.name)
		return nil
	}

	pool, err := newPool(ctx, h.dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, "SELECT pg_create_logical_replication_slot($1, $2)", h.name, string(h.plugin))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgCodeDuplicateObject {
			log.Printf("slot %s already exists, reusing it", h.name)
			return nil
		}
		return fmt.Errorf("create slot %s with plugin %s: %w", h.name, h.plugin, err)
	}
	log.Printf("created slot %s with plugin %s", h.name, h.plugin)
	return nil
}

// Drop removes the slot. A slot that is already gone is not fatal: the source
// database may have dropped it behind our back (restart, manual cleanup), and
// finalize must still be able to complete so the session record can reflect
// the error_deleted state instead of wedging.
func (h *SlotHandle) Drop(ctx context.Context) error {
	pool, err := newPool(ctx, h.dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, "SELECT pg_drop_replication_slot($1)", h.name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgCodeUndefinedObject {
			log.Printf("slot %s already gone, continuing", h.name)
			return nil
		}
		return fmt.Errorf("drop slot %s: %w", h.name, err)
	}
	log.Printf("dropped slot %s", h.name)
	return nil
}

// Fetch consumes all pending changes from the slot and returns the raw
// decoder payloads in wire order. Each change is delivered exactly once per
// fetch; a payload lost after this call is lost for good, so callers sink
// before they return.
func (h *SlotHandle) Fetch(ctx context.Context) ([]string, error) {
	pool, err := newPool(ctx, h.dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	query := "SELECT data FROM pg_logical_slot_get_changes($1, NULL, NULL)"
	if h.plugin == event.PluginWal2JSON {
		query = `SELECT data FROM pg_logical_slot_get_changes(
  $1, NULL, NULL,
  'include-timestamp', '1',
  'include-xids', '1',
  'include-schemas', '1',
  'include-types', '1',
  'include-transaction', '1')`
	}

	rows, err := pool.Query(ctx, query, h.name)
	if err != nil {
		return nil, fmt.Errorf("fetch changes from slot %s: %w", h.name, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}
