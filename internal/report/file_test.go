package report

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/SofiaNechaeva/wal-analyzer/internal/metastore"
)

func testSummary() Summary {
	return Summary{
		Operations: map[string]int64{"INSERT": 3, "DELETE": 1},
		Tables:     []metastore.TableCount{{Schema: "public", Table: "orders", Count: 4}},
		Activity:   []metastore.ActivityBucket{{BucketStart: 100, BucketEnd: 103, Count: 4}},
		Sizes:      map[string]int64{"small": 4},
	}
}

func TestRenderSummaryNoOutputSelected(t *testing.T) {
	r := &FileRenderer{Fs: afero.NewMemMapFs(), Dir: "/reports"}
	result, err := r.RenderSummary(context.Background(), "s1", testSummary(), false, false)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if result != NoOutputSelected {
		t.Fatalf("result = %q", result)
	}
}

func TestRenderSummaryWritesArtifacts(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := &FileRenderer{Fs: fs, Dir: "/reports"}

	result, err := r.RenderSummary(context.Background(), "s1", testSummary(), true, true)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	paths := strings.Split(result, ";")
	if len(paths) != 2 {
		t.Fatalf("result = %q", result)
	}

	jsonBody, err := afero.ReadFile(fs, "/reports/s1_report.json")
	if err != nil {
		t.Fatalf("read json artifact: %v", err)
	}
	if !strings.Contains(string(jsonBody), `"INSERT": 3`) {
		t.Fatalf("json artifact = %s", jsonBody)
	}

	htmlBody, err := afero.ReadFile(fs, "/reports/s1_report.html")
	if err != nil {
		t.Fatalf("read html artifact: %v", err)
	}
	if !strings.Contains(string(htmlBody), "public.orders") {
		t.Fatalf("html artifact missing table row: %s", htmlBody)
	}
}

func TestAppendHistory(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := &FileRenderer{Fs: fs, Dir: "/reports"}

	changes := []Change{
		{OldData: map[string]any{"status": "new"}, NewData: map[string]any{"status": "paid"}},
		{OldData: map[string]any{"status": "paid"}, NewData: map[string]any{"status": "####"}},
	}
	path, err := r.AppendHistory(context.Background(), "s1", "orders", "120", changes)
	if err != nil {
		t.Fatalf("append history: %v", err)
	}
	if path != "/reports/s1_orders_120.log" {
		t.Fatalf("path = %q", path)
	}

	body, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `{"status":"new"} -> {"status":"paid"}`) {
		t.Fatalf("artifact = %s", text)
	}
	if strings.Index(text, `"new"`) > strings.Index(text, "####") {
		t.Fatalf("changes out of order: %s", text)
	}
}

func TestLoadSummary(t *testing.T) {
	store, err := metastore.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.IncrementOperation(ctx, "s1", "INSERT"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.IncrementSize(ctx, "s1", "small"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	sum, err := LoadSummary(ctx, store, "s1")
	if err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if sum.Operations["INSERT"] != 1 || sum.Sizes["small"] != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}
