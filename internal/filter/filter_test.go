package filter

import (
	"testing"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

func sampleEvent() event.Event {
	return event.Event{
		Schema:    "public",
		Table:     "orders",
		Operation: event.OpUpdate,
		OldData:   map[string]any{"id": float64(120)},
		NewData:   map[string]any{"id": float64(120), "status": "shipped"},
	}
}

func TestEmptyCriteriaMatchEverything(t *testing.T) {
	var c Criteria
	if !c.Match(sampleEvent()) {
		t.Fatal("empty criteria must match")
	}
	if !c.MatchRawLine("anything at all") {
		t.Fatal("empty criteria must match raw lines")
	}
}

func TestTableCriterion(t *testing.T) {
	c := Criteria{Tables: []string{"orders", "customers"}}
	if !c.Match(sampleEvent()) {
		t.Fatal("orders should match")
	}
	ev := sampleEvent()
	ev.Table = "products"
	if c.Match(ev) {
		t.Fatal("products should not match")
	}
}

func TestOperationCriterionCaseInsensitive(t *testing.T) {
	c := Criteria{Operations: []string{"update"}}
	if !c.Match(sampleEvent()) {
		t.Fatal("update should match UPDATE")
	}
	ev := sampleEvent()
	ev.Operation = event.OpDelete
	if c.Match(ev) {
		t.Fatal("delete should not match")
	}
}

func TestIDCriterionSubstring(t *testing.T) {
	// the identifier match is substring containment on the serialized
	// data, so "12" also matches id 120
	c := Criteria{IDs: []string{"12"}}
	if !c.Match(sampleEvent()) {
		t.Fatal("\"12\" should match the serialized 120")
	}

	c = Criteria{IDs: []string{"999"}}
	if c.Match(sampleEvent()) {
		t.Fatal("999 should not match")
	}

	c = Criteria{IDs: []string{"shipped"}}
	if !c.Match(sampleEvent()) {
		t.Fatal("identifier may match in new data too")
	}
}

func TestAllCriteriaMustPass(t *testing.T) {
	c := Criteria{Tables: []string{"orders"}, Operations: []string{"INSERT"}, IDs: []string{"120"}}
	if c.Match(sampleEvent()) {
		t.Fatal("operation criterion should reject the update")
	}
	c.Operations = []string{"UPDATE"}
	if !c.Match(sampleEvent()) {
		t.Fatal("all criteria satisfied, should match")
	}
}

func TestMatchRawLine(t *testing.T) {
	line := "table public.orders: INSERT: id[integer]:1"
	c := Criteria{Tables: []string{"orders"}, Operations: []string{"insert"}}
	if !c.MatchRawLine(line) {
		t.Fatal("raw line should match")
	}
	c = Criteria{Tables: []string{"customers"}}
	if c.MatchRawLine(line) {
		t.Fatal("raw line mentions no customers")
	}
	c = Criteria{Operations: []string{"DELETE"}}
	if c.MatchRawLine(line) {
		t.Fatal("raw line is not a delete")
	}
}

func TestApplyRoutesByKind(t *testing.T) {
	c := Criteria{Tables: []string{"orders"}}
	events := []event.Event{
		sampleEvent(),
		{Raw: "table public.orders: DELETE: id[integer]:2"},
		{Raw: "table public.products: DELETE: id[integer]:3"},
	}
	kept := c.Apply(events)
	if len(kept) != 2 {
		t.Fatalf("kept %d events", len(kept))
	}
}

func TestFromConfig(t *testing.T) {
	cfg := event.SlotConfig{
		Tables:     []string{"orders"},
		Operations: []string{"INSERT"},
		HistoryIDs: []string{"12"},
	}
	c := FromConfig(cfg)
	if len(c.Tables) != 1 || len(c.Operations) != 1 || len(c.IDs) != 1 {
		t.Fatalf("criteria = %+v", c)
	}
}
