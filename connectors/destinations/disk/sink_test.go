package disk

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

func TestAppendAndReadLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := NewSink(fs, "/data/out.jsonl")

	if err := sink.AppendLines([]string{"one", "two"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sink.AppendLines([]string{"three"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines, err := sink.ReadLines()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Join(lines, ",") != "one,two,three" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestReadMissingFile(t *testing.T) {
	sink := NewSink(afero.NewMemMapFs(), "/missing.jsonl")
	lines, err := sink.ReadLines()
	if err != nil {
		t.Fatalf("missing file must read empty: %v", err)
	}
	if lines != nil {
		t.Fatalf("lines = %v", lines)
	}
}

func TestAppendEvents(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := NewSink(fs, "/out.jsonl")

	events := []event.Event{
		{Table: "orders", Operation: event.OpInsert, NewData: map[string]any{"id": 1}},
		{Raw: "table public.orders: DELETE: id[integer]:2"},
	}
	n, err := sink.AppendEvents(events)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	if n != 2 {
		t.Fatalf("written = %d", n)
	}
	lines, err := sink.ReadLines()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 2 || lines[1] != events[1].Raw {
		t.Fatalf("lines = %v", lines)
	}
}

func TestDumpFilename(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	got := DumpFilename("orders_slot", "jsonl", now)
	if got != "orders_slot_20260102_150405.jsonl" {
		t.Fatalf("filename = %q", got)
	}
}

func TestValidateDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/dumps", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := afero.WriteFile(fs, "/dumps/file.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := ValidateDir(fs, "/dumps"); err != nil {
		t.Fatalf("valid dir rejected: %v", err)
	}
	if err := ValidateDir(fs, ""); err == nil {
		t.Fatal("empty path accepted")
	}
	if err := ValidateDir(fs, "/nope"); err == nil {
		t.Fatal("missing dir accepted")
	}
	if err := ValidateDir(fs, "/dumps/file.txt"); err == nil {
		t.Fatal("file accepted as dir")
	}
}
