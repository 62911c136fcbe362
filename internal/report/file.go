package report

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FileRenderer is the built-in renderer: it writes the counter tables as a
// JSON document and/or a plain HTML table page. The chart-grade PDF renderer
// is an external collaborator; sessions run fine without it.
type FileRenderer struct {
	Fs  afero.Fs
	Dir string
}

var htmlReport = template.Must(template.New("report").Parse(`<html><head><meta charset="utf-8"><title>{{.Slot}}</title></head><body>
<h1>Slot {{.Slot}}</h1>
<h2>Operations</h2>
<table border="1">{{range .Operations}}<tr><td>{{.Key}}</td><td>{{.Count}}</td></tr>{{end}}</table>
<h2>Tables</h2>
<table border="1">{{range .Tables}}<tr><td>{{.Schema}}.{{.Table}}</td><td>{{.Count}}</td></tr>{{end}}</table>
<h2>Activity</h2>
<table border="1">{{range .Activity}}<tr><td>{{.BucketStart}}</td><td>{{.BucketEnd}}</td><td>{{.Count}}</td></tr>{{end}}</table>
<h2>Sizes</h2>
<table border="1">{{range .Sizes}}<tr><td>{{.Key}}</td><td>{{.Count}}</td></tr>{{end}}</table>
</body></html>
`))

type keyCount struct {
	Key   string
	Count int64
}

func sortedCounts(m map[string]int64) []keyCount {
	out := make([]keyCount, 0, len(m))
	for key, count := range m {
		out = append(out, keyCount{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *FileRenderer) RenderSummary(_ context.Context, slotName string, sum Summary, wantPDF, wantHTML bool) (string, error) {
	paths := []string{}

	// The PDF toggle is honored with a JSON document: the actual chart/PDF
	// pipeline consumes these counters downstream.
	if wantPDF {
		path := filepath.Join(r.Dir, fmt.Sprintf("%s_report.json", slotName))
		payload, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode summary: %w", err)
		}
		if err := afero.WriteFile(r.Fs, path, payload, 0o644); err != nil {
			return "", fmt.Errorf("write summary report: %w", err)
		}
		paths = append(paths, path)
	}

	if wantHTML {
		path := filepath.Join(r.Dir, fmt.Sprintf("%s_report.html", slotName))
		var buf strings.Builder
		data := struct {
			Slot       string
			Operations []keyCount
			Tables     any
			Activity   any
			Sizes      []keyCount
		}{
			Slot:       slotName,
			Operations: sortedCounts(sum.Operations),
			Tables:     sum.Tables,
			Activity:   sum.Activity,
			Sizes:      sortedCounts(sum.Sizes),
		}
		if err := htmlReport.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render summary html: %w", err)
		}
		if err := afero.WriteFile(r.Fs, path, []byte(buf.String()), 0o644); err != nil {
			return "", fmt.Errorf("write summary html: %w", err)
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return NoOutputSelected, nil
	}
	return strings.Join(paths, ";"), nil
}

func (r *FileRenderer) AppendHistory(_ context.Context, slotName, table, id string, changes []Change) (string, error) {
	path := filepath.Join(r.Dir, fmt.Sprintf("%s_%s_%s.log", slotName, table, id))

	file, err := r.Fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open history report %s: %w", path, err)
	}
	defer file.Close()

	header := fmt.Sprintf("history for id=%s table=%s slot=%s\n", id, table, slotName)
	if _, err := file.WriteString(header); err != nil {
		return "", fmt.Errorf("write history report %s: %w", path, err)
	}
	for _, change := range changes {
		oldJSON, _ := json.Marshal(change.OldData)
		newJSON, _ := json.Marshal(change.NewData)
		if _, err := fmt.Fprintf(file, "%s -> %s\n", oldJSON, newJSON); err != nil {
			return "", fmt.Errorf("write history report %s: %w", path, err)
		}
	}
	return path, nil
}
