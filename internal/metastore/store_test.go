package metastore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndLoadSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cfg := event.SlotConfig{
		SlotName:     "orders_slot",
		Plugin:       event.PluginWal2JSON,
		AnalysisType: event.AnalysisSummary,
		PeriodHours:  1,
		Tables:       []string{"orders"},
		SummaryHTML:  true,
	}
	id, err := store.SaveSession(ctx, "postgres://app@db/mydb", "mydb", cfg)
	if err != nil {
		t.Fatalf("save session: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	dsn, loaded, err := store.LoadConfig(ctx, "orders_slot")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if dsn != "postgres://app@db/mydb" {
		t.Fatalf("dsn = %q", dsn)
	}
	if loaded.AnalysisType != event.AnalysisSummary || !loaded.SummaryHTML {
		t.Fatalf("config roundtrip mismatch: %+v", loaded)
	}
	if len(loaded.Tables) != 1 || loaded.Tables[0] != "orders" {
		t.Fatalf("tables = %v", loaded.Tables)
	}
}

func TestLoadConfigNotFound(t *testing.T) {
	store := openTestStore(t)
	_, _, err := store.LoadConfig(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSessionResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cfg := event.SlotConfig{SlotName: "s1", AnalysisType: event.AnalysisFull, PeriodHours: 1}
	if _, err := store.SaveSession(ctx, "dsn", "db", cfg); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.UpdateSessionResult(ctx, "s1", "5 records in /tmp/s1.jsonl"); err != nil {
		t.Fatalf("update result: %v", err)
	}
	if err := store.UpdateSessionResult(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sessions, err := store.ListSessions(ctx, map[string]struct{}{})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Result != "5 records in /tmp/s1.jsonl" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestListSessionsReconcilesDeletedSlots(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alive", "vanished"} {
		cfg := event.SlotConfig{SlotName: name, AnalysisType: event.AnalysisSummary, PeriodHours: 1}
		if _, err := store.SaveSession(ctx, "dsn", "db", cfg); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	sessions, err := store.ListSessions(ctx, map[string]struct{}{"alive": {}})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	results := map[string]string{}
	for _, rec := range sessions {
		results[rec.SlotName] = rec.Result
	}
	if results["alive"] != ResultActive {
		t.Fatalf("alive = %q", results["alive"])
	}
	if results["vanished"] != ResultErrorDeleted {
		t.Fatalf("vanished = %q", results["vanished"])
	}
}

func TestFinishedSessionsAreNotReconciled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cfg := event.SlotConfig{SlotName: "done", AnalysisType: event.AnalysisSummary, PeriodHours: 1}
	if _, err := store.SaveSession(ctx, "dsn", "db", cfg); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.UpdateSessionResult(ctx, "done", "report.html"); err != nil {
		t.Fatalf("update result: %v", err)
	}

	sessions, err := store.ListSessions(ctx, map[string]struct{}{})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if sessions[0].Result != "report.html" {
		t.Fatalf("finished result rewritten: %q", sessions[0].Result)
	}
}

func TestAggregateCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.IncrementOperation(ctx, "s1", "INSERT"); err != nil {
			t.Fatalf("increment operation: %v", err)
		}
	}
	if err := store.IncrementOperation(ctx, "s1", "DELETE"); err != nil {
		t.Fatalf("increment operation: %v", err)
	}
	if err := store.IncrementOperation(ctx, "other", "INSERT"); err != nil {
		t.Fatalf("increment operation: %v", err)
	}
	if err := store.IncrementTable(ctx, "s1", "public", "orders"); err != nil {
		t.Fatalf("increment table: %v", err)
	}
	if err := store.IncrementActivity(ctx, "s1", 100, 103); err != nil {
		t.Fatalf("increment activity: %v", err)
	}
	if err := store.IncrementSize(ctx, "s1", "small"); err != nil {
		t.Fatalf("increment size: %v", err)
	}

	ops, err := store.OperationCounts(ctx, "s1")
	if err != nil {
		t.Fatalf("operation counts: %v", err)
	}
	if ops["INSERT"] != 3 || ops["DELETE"] != 1 {
		t.Fatalf("ops = %v", ops)
	}

	tables, err := store.TableCounts(ctx, "s1")
	if err != nil {
		t.Fatalf("table counts: %v", err)
	}
	if len(tables) != 1 || tables[0].Table != "orders" || tables[0].Count != 1 {
		t.Fatalf("tables = %+v", tables)
	}

	if err := store.ClearAggregates(ctx, "s1"); err != nil {
		t.Fatalf("clear aggregates: %v", err)
	}
	ops, err = store.OperationCounts(ctx, "s1")
	if err != nil {
		t.Fatalf("operation counts: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("counters survived clear: %v", ops)
	}

	// counters of other slots stay untouched
	other, err := store.OperationCounts(ctx, "other")
	if err != nil {
		t.Fatalf("operation counts: %v", err)
	}
	if other["INSERT"] != 1 {
		t.Fatalf("other slot counters = %v", other)
	}
}
