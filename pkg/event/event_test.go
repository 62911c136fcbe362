package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizedDefaults(t *testing.T) {
	cfg := SlotConfig{AnalysisType: AnalysisSummary}.Normalized()
	if cfg.SlotName != "data_slot" {
		t.Fatalf("slot name = %q", cfg.SlotName)
	}
	if cfg.Plugin != PluginWal2JSON {
		t.Fatalf("plugin = %q", cfg.Plugin)
	}
	if cfg.PeriodHours != 1 {
		t.Fatalf("period hours = %d", cfg.PeriodHours)
	}
}

func TestNormalizedKeepsExplicitValues(t *testing.T) {
	cfg := SlotConfig{SlotName: "orders", Plugin: PluginTestDecoding, PeriodHours: 24}.Normalized()
	if cfg.SlotName != "orders" || cfg.Plugin != PluginTestDecoding || cfg.PeriodHours != 24 {
		t.Fatalf("explicit values changed: %+v", cfg)
	}
}

func TestPeriodSecondsAndRunDuration(t *testing.T) {
	cfg := SlotConfig{PeriodHours: 24}
	if cfg.PeriodSeconds() != 24*3600 {
		t.Fatalf("period seconds = %d", cfg.PeriodSeconds())
	}
	if cfg.RunDuration() != 24*time.Second {
		t.Fatalf("run duration = %s", cfg.RunDuration())
	}
}

func TestParseIDList(t *testing.T) {
	got := ParseIDList(" 12; 34 ;;abc ")
	want := []string{"12", "34", "abc"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if out := ParseIDList("  ;  "); len(out) != 0 {
		t.Fatalf("blank input should parse empty, got %v", out)
	}
}

func TestEventLine(t *testing.T) {
	ev := Event{
		Timestamp: "2026-01-02 10:00:00.000001+00",
		XID:       77,
		Schema:    "public",
		Table:     "orders",
		Operation: OpInsert,
		NewData:   map[string]any{"id": float64(1)},
	}
	line, err := ev.Line()
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if decoded.Table != "orders" || decoded.Operation != OpInsert || decoded.XID != 77 {
		t.Fatalf("roundtrip mismatch: %+v", decoded)
	}
}

func TestEventRawLine(t *testing.T) {
	ev := Event{Raw: "table public.orders: INSERT: id[integer]:1"}
	if !ev.IsRaw() {
		t.Fatal("expected raw event")
	}
	line, err := ev.Line()
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	if line != ev.Raw {
		t.Fatalf("raw line changed: %q", line)
	}
}
