// Package metastore persists analysis session records and aggregate counters
// in a single-file SQLite database.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

// ErrNotFound is returned when no session exists for a slot name.
var ErrNotFound = errors.New("session not found")

// Session result states. Anything else in the result column is the final
// descriptor of a finished analysis.
const (
	ResultActive       = "active"
	ResultErrorDeleted = "error_deleted"
)

const initSessions = `CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  slot_name TEXT NOT NULL UNIQUE,
  dsn TEXT NOT NULL,
  dbname TEXT NOT NULL,
  analysis_type TEXT NOT NULL,
  plugin TEXT NOT NULL,
  config TEXT NOT NULL,
  created_at TEXT NOT NULL,
  result TEXT NOT NULL
);`

// SessionRecord is one row of the sessions table, as shown on listings.
type SessionRecord struct {
	ID           string
	SlotName     string
	DBName       string
	AnalysisType event.AnalysisType
	Plugin       event.Plugin
	CreatedAt    time.Time
	Result       string
}

// Store wraps the SQLite metadata database.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the metadata database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("metastore path is required")
	}
	if err := ensurePath(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	for _, stmt := range []string{initSessions, initAggOperations, initAggTables, initAggActivity, initAggSizes} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init metastore schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveSession records a new analysis session in the 'active' state and
// returns its generated id.
func (s *Store) SaveSession(ctx context.Context, dsn, dbname string, cfg event.SlotConfig) (string, error) {
	snapshot, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode slot config: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, slot_name, dsn, dbname, analysis_type, plugin, config, created_at, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, cfg.SlotName, dsn, dbname, string(cfg.AnalysisType), string(cfg.Plugin),
		string(snapshot), time.Now().UTC().Format(time.RFC3339Nano), ResultActive,
	)
	if err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return id, nil
}

// LoadConfig returns the target DSN and the config snapshot for a slot.
func (s *Store) LoadConfig(ctx context.Context, slotName string) (string, event.SlotConfig, error) {
	row := s.db.QueryRowContext(ctx, "SELECT dsn, config FROM sessions WHERE slot_name = ?", slotName)
	var dsn, snapshot string
	if err := row.Scan(&dsn, &snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", event.SlotConfig{}, ErrNotFound
		}
		return "", event.SlotConfig{}, fmt.Errorf("load session config: %w", err)
	}
	var cfg event.SlotConfig
	if err := json.Unmarshal([]byte(snapshot), &cfg); err != nil {
		return "", event.SlotConfig{}, fmt.Errorf("decode slot config: %w", err)
	}
	return dsn, cfg, nil
}

// UpdateSessionResult persists the finalize result for a slot. Session rows
// are never deleted; the result column carries the lifecycle.
func (s *Store) UpdateSessionResult(ctx context.Context, slotName, result string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET result = ? WHERE slot_name = ?", result, slotName)
	if err != nil {
		return fmt.Errorf("update session result: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns all session records, reconciled against the live slot
// set: an 'active' record whose slot no longer exists on the source database
// is reported as 'error_deleted'. The reconciliation happens at read time on
// purpose; a background sweep would race the poll workers.
func (s *Store) ListSessions(ctx context.Context, liveSlots map[string]struct{}) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, slot_name, dbname, analysis_type, plugin, created_at, result FROM sessions ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var analysisType, plugin, createdAt string
		if err := rows.Scan(&rec.ID, &rec.SlotName, &rec.DBName, &analysisType, &plugin, &createdAt, &rec.Result); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.AnalysisType = event.AnalysisType(analysisType)
		rec.Plugin = event.Plugin(plugin)
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = parsed
		}
		if rec.Result == ResultActive {
			if _, alive := liveSlots[rec.SlotName]; !alive {
				rec.Result = ResultErrorDeleted
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func ensurePath(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == ":memory:" {
		return nil
	}
	if strings.HasPrefix(trimmed, "file:") {
		trimmed = strings.TrimPrefix(trimmed, "file:")
		trimmed = strings.TrimPrefix(trimmed, "//")
	}
	if idx := strings.IndexAny(trimmed, "?;"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" || trimmed == ":memory:" {
		return nil
	}
	dir := filepath.Dir(trimmed)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metastore dir: %w", err)
	}
	return nil
}
