package decode

import (
	"errors"
	"testing"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

const updatePayload = `{
  "timestamp": "2026-01-02 10:00:00.000001+00",
  "xid": 901,
  "change": [
    {
      "kind": "update",
      "schema": "public",
      "table": "orders",
      "columnnames": ["id", "status"],
      "columnvalues": [120, "shipped"],
      "oldkeys": {"keynames": ["id"], "keyvalues": [120]}
    }
  ]
}`

func TestWal2JSONDecode(t *testing.T) {
	dec := &Wal2JSONDecoder{}
	events, err := dec.Decode(updatePayload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.Operation != event.OpUpdate {
		t.Fatalf("operation = %q", ev.Operation)
	}
	if ev.Schema != "public" || ev.Table != "orders" {
		t.Fatalf("target = %s.%s", ev.Schema, ev.Table)
	}
	if ev.XID != 901 {
		t.Fatalf("xid = %d", ev.XID)
	}
	if ev.NewData["status"] != "shipped" {
		t.Fatalf("new data = %v", ev.NewData)
	}
	if ev.OldData["id"] != float64(120) {
		t.Fatalf("old data = %v", ev.OldData)
	}
}

func TestWal2JSONInsertHasNoOldData(t *testing.T) {
	payload := `{"timestamp":"2026-01-02 10:00:00+00","xid":1,"change":[
	  {"kind":"insert","schema":"public","table":"orders",
	   "columnnames":["id"],"columnvalues":[5]}]}`
	dec := &Wal2JSONDecoder{}
	events, err := dec.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].OldData != nil {
		t.Fatalf("insert should carry no old data: %v", events[0].OldData)
	}
	if events[0].NewData["id"] != float64(5) {
		t.Fatalf("new data = %v", events[0].NewData)
	}
}

func TestWal2JSONMismatchedColumnsDropped(t *testing.T) {
	payload := `{"timestamp":"2026-01-02 10:00:00+00","xid":1,"change":[
	  {"kind":"insert","schema":"public","table":"orders",
	   "columnnames":["id","status"],"columnvalues":[5]},
	  {"kind":"delete","schema":"public","table":"orders",
	   "oldkeys":{"keynames":["id"],"keyvalues":[5]}}]}`
	dec := &Wal2JSONDecoder{}
	events, err := dec.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("mismatched entry should be dropped, got %d events", len(events))
	}
	if events[0].Operation != event.OpDelete {
		t.Fatalf("survivor = %q", events[0].Operation)
	}
}

func TestWal2JSONMalformedPayload(t *testing.T) {
	dec := &Wal2JSONDecoder{}
	if _, err := dec.Decode("{not json"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestTestDecodingKeepsRawLine(t *testing.T) {
	dec := &TestDecodingDecoder{}
	line := "table public.orders: UPDATE: id[integer]:120 status[text]:'shipped'"
	events, err := dec.Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Raw != line {
		t.Fatalf("got %+v", events)
	}
	if empty, err := dec.Decode("   "); err != nil || len(empty) != 0 {
		t.Fatalf("blank line should decode to nothing: %v %v", empty, err)
	}
}

func TestForPlugin(t *testing.T) {
	if _, err := ForPlugin(event.PluginWal2JSON); err != nil {
		t.Fatalf("wal2json: %v", err)
	}
	if _, err := ForPlugin(event.PluginTestDecoding); err != nil {
		t.Fatalf("test_decoding: %v", err)
	}
	_, err := ForPlugin(event.Plugin("pgoutput"))
	if !errors.Is(err, event.ErrUnknownPlugin) {
		t.Fatalf("expected ErrUnknownPlugin, got %v", err)
	}
}

func TestFileExtension(t *testing.T) {
	if ext, _ := FileExtension(event.PluginWal2JSON); ext != "jsonl" {
		t.Fatalf("wal2json ext = %q", ext)
	}
	if ext, _ := FileExtension(event.PluginTestDecoding); ext != "txt" {
		t.Fatalf("test_decoding ext = %q", ext)
	}
	if _, err := FileExtension(event.Plugin("x")); err == nil {
		t.Fatal("expected error for unknown plugin")
	}
}

func TestBatchAbsorbsFailures(t *testing.T) {
	dec := &Wal2JSONDecoder{}
	events, failed := Batch(dec, []string{updatePayload, "{broken", updatePayload})
	if failed != 1 {
		t.Fatalf("failed = %d", failed)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
}
